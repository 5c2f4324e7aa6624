// Package export walks the catalog hierarchy (brand, model, year option,
// price) and flattens it into an ordered row stream for a CSV sink.
package export

import (
	"strconv"
	"strings"

	"fipe-crawler/pkg/fipe"
)

// Columns is the export schema, one line per resolved year option.
var Columns = []string{
	"vehicleType",
	"brandCode",
	"brandName",
	"modelCode",
	"modelName",
	"yearCode",
	"modelYear",
	"fuel",
	"fuelAcronym",
	"fipeCode",
	"referenceMonth",
	"price",
}

// Row is one flattened export record. Immutable once constructed.
type Row struct {
	VehicleType    fipe.VehicleType
	BrandCode      fipe.Code
	BrandName      string
	ModelCode      fipe.Code
	ModelName      string
	YearCode       fipe.Code
	ModelYear      int
	Fuel           string
	FuelAcronym    string
	FipeCode       string
	ReferenceMonth string
	Price          string
}

// NewRow builds an export row from a traversal position and its price
// snapshot. The snapshot's own brand/model labels win over the listing
// labels when present.
func NewRow(vt fipe.VehicleType, brand fipe.Brand, model fipe.Model, year fipe.YearOption, snap *fipe.PriceSnapshot) Row {
	brandName := snap.Brand
	if brandName == "" {
		brandName = brand.Name
	}
	modelName := snap.Model
	if modelName == "" {
		modelName = model.Name
	}
	return Row{
		VehicleType:    vt,
		BrandCode:      brand.Code,
		BrandName:      brandName,
		ModelCode:      model.Code,
		ModelName:      modelName,
		YearCode:       year.Code,
		ModelYear:      snap.ModelYear,
		Fuel:           snap.Fuel,
		FuelAcronym:    snap.FuelAcronym,
		FipeCode:       snap.CodeFipe,
		ReferenceMonth: snap.ReferenceMonth,
		Price:          NormalizePrice(snap.Price),
	}
}

// Record renders the row in Columns order.
func (r Row) Record() []string {
	return []string{
		string(r.VehicleType),
		string(r.BrandCode),
		r.BrandName,
		string(r.ModelCode),
		r.ModelName,
		string(r.YearCode),
		strconv.Itoa(r.ModelYear),
		r.Fuel,
		r.FuelAcronym,
		r.FipeCode,
		r.ReferenceMonth,
		r.Price,
	}
}

// NormalizePrice converts the API's localized price string
// ("R$ 43.914,00") into a plain decimal ("43914.00").
func NormalizePrice(s string) string {
	s = strings.ReplaceAll(s, "R$", "")
	s = strings.ReplaceAll(s, " ", " ")
	s = strings.TrimSpace(s)
	s = strings.ReplaceAll(s, ".", "")
	s = strings.ReplaceAll(s, ",", ".")
	return s
}
