package spatial

import (
	"fmt"

	"github.com/territorial-engagement/backend/internal/apperr"
)

type GeometryType string

const (
	GeometryPolygon GeometryType = "polygon"
	GeometryPoint   GeometryType = "point"
	GeometryLine    GeometryType = "line"
	// GeometryMixed layers hold points and polygons; only polygons are
	// simplified.
	GeometryMixed GeometryType = "mixed"
)

type FieldType string

const (
	FieldText    FieldType = "text"
	FieldInteger FieldType = "integer"
	FieldFloat   FieldType = "float"
	FieldDate    FieldType = "date"
)

type Field struct {
	ID    string    `json:"id"`
	Label string    `json:"label"`
	Type  FieldType `json:"type"`
}

func (f Field) numeric() bool {
	return f.Type == FieldInteger || f.Type == FieldFloat
}

type Layer struct {
	Name     string       `json:"name"`
	Table    string       `json:"table"`
	Geometry GeometryType `json:"geometry"`
	// IDExpr renders the feature id over the alias p.
	IDExpr string  `json:"-"`
	Fields []Field `json:"fields"`
}

func (l Layer) Field(id string) (Field, error) {
	for _, f := range l.Fields {
		if f.ID == id {
			return f, nil
		}
	}
	return Field{}, fmt.Errorf("%w: %q on layer %s", apperr.ErrFieldNotFound, id, l.Name)
}

var layers = map[string]Layer{
	"departments": {
		Name:     "departments",
		Table:    "activities_departments",
		Geometry: GeometryPolygon,
		IDExpr:   "p.department",
		Fields: []Field{
			{ID: "department", Label: "Departamento", Type: FieldText},
		},
	},
	"municipalities": {
		Name:     "municipalities",
		Table:    "activities_municipalities",
		Geometry: GeometryPolygon,
		IDExpr:   "p.department || '/' || p.municipality",
		Fields: []Field{
			{ID: "municipality", Label: "Municipio", Type: FieldText},
			{ID: "department", Label: "Departamento", Type: FieldText},
		},
	},
	"activities": {
		Name:     "activities",
		Table:    "activities",
		Geometry: GeometryMixed,
		IDExpr:   "p.id",
		Fields: []Field{
			{ID: "date", Label: "Fecha", Type: FieldDate},
			{ID: "contract", Label: "Contrato", Type: FieldText},
			{ID: "zone", Label: "Zona", Type: FieldText},
			{ID: "department", Label: "Departamento", Type: FieldText},
			{ID: "municipality", Label: "Municipio", Type: FieldText},
			{ID: "location", Label: "Ubicación", Type: FieldText},
			{ID: "interest_group", Label: "Grupo de interés", Type: FieldText},
			{ID: "intervention_group", Label: "Grupo de intervención", Type: FieldText},
			{ID: "activity_category", Label: "Tipo de actividad", Type: FieldText},
			{ID: "canonical_category", Label: "Categoría", Type: FieldText},
			{ID: "total_attendees", Label: "Asistentes", Type: FieldInteger},
			{ID: "geometry_kind", Label: "Tipo de geometría", Type: FieldText},
		},
	},
	"meeting_points": {
		Name:     "meeting_points",
		Table:    "meeting_points",
		Geometry: GeometryPoint,
		IDExpr:   "p.id",
		Fields: []Field{
			{ID: "name", Label: "Nombre", Type: FieldText},
			{ID: "department", Label: "Departamento", Type: FieldText},
			{ID: "municipality", Label: "Municipio", Type: FieldText},
			{ID: "capacity", Label: "Capacidad", Type: FieldInteger},
		},
	},
	"evacuation_signs": {
		Name:     "evacuation_signs",
		Table:    "evacuation_signs",
		Geometry: GeometryPoint,
		IDExpr:   "p.id",
		Fields: []Field{
			{ID: "sign_type", Label: "Tipo de señal", Type: FieldText},
			{ID: "department", Label: "Departamento", Type: FieldText},
			{ID: "municipality", Label: "Municipio", Type: FieldText},
		},
	},
	"evacuation_routes": {
		Name:     "evacuation_routes",
		Table:    "evacuation_routes",
		Geometry: GeometryLine,
		IDExpr:   "p.id",
		Fields: []Field{
			{ID: "name", Label: "Nombre", Type: FieldText},
			{ID: "municipality", Label: "Municipio", Type: FieldText},
			{ID: "length_m", Label: "Longitud (m)", Type: FieldFloat},
		},
	},
	"hydrography": {
		Name:     "hydrography",
		Table:    "hydrography",
		Geometry: GeometryLine,
		IDExpr:   "p.id",
		Fields: []Field{
			{ID: "name", Label: "Nombre", Type: FieldText},
			{ID: "river_type", Label: "Tipo", Type: FieldText},
		},
	},
	"roads": {
		Name:     "roads",
		Table:    "roads",
		Geometry: GeometryLine,
		IDExpr:   "p.id",
		Fields: []Field{
			{ID: "name", Label: "Nombre", Type: FieldText},
			{ID: "road_type", Label: "Tipo de vía", Type: FieldText},
			{ID: "surface", Label: "Superficie", Type: FieldText},
		},
	},
}

func LookupLayer(name string) (Layer, error) {
	l, ok := layers[name]
	if !ok {
		return Layer{}, fmt.Errorf("%w: %q", apperr.ErrLayerNotFound, name)
	}
	return l, nil
}

// LayerNames lists the registry in a stable order.
func LayerNames() []string {
	return []string{
		"departments", "municipalities", "activities", "meeting_points",
		"evacuation_signs", "evacuation_routes", "hydrography", "roads",
	}
}
