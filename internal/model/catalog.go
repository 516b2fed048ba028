package model

// CatalogEntry is a row of one of the small reference catalogs (areas,
// severities, statuses). IDs share the server's numbering space.
type CatalogEntry struct {
	ID   int64
	Name string
}

// DefaultStatusID is the status assigned to newly created reports ("Pendiente").
const DefaultStatusID int64 = 1

// SeedAreas, SeedSeverities and SeedStatuses are the catalog contents
// pre-loaded into a fresh local database. The IDs must match the server.
var (
	SeedAreas = []CatalogEntry{
		{1, "Perforación y Tronadura"},
		{2, "Carga y Transporte"},
		{3, "Chancado y Molienda"},
		{4, "Mantenimiento Mecánico"},
		{5, "Mantenimiento Eléctrico"},
		{6, "Seguridad Industrial"},
		{7, "Control de Producción"},
		{8, "Planta Concentradora"},
		{9, "Salud y Medio Ambiente"},
		{10, "Administración General"},
	}

	SeedSeverities = []CatalogEntry{
		{1, "Baja"},
		{2, "Media"},
		{3, "Alta"},
	}

	SeedStatuses = []CatalogEntry{
		{1, "Pendiente"},
		{2, "Aprobado"},
		{3, "Rechazado"},
	}
)
