// Package fipe provides the typed FIPE catalog client with rate limiting,
// retry and failure classification.
package fipe

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// VehicleType selects the catalog subtree for a run.
type VehicleType string

const (
	// Cars selects the passenger-car subtree.
	Cars VehicleType = "cars"

	// Motorcycles selects the motorcycle subtree.
	Motorcycles VehicleType = "motorcycles"

	// Trucks selects the truck subtree.
	Trucks VehicleType = "trucks"
)

// AllVehicleTypes lists the vehicle types in full-scan order.
var AllVehicleTypes = []VehicleType{Cars, Motorcycles, Trucks}

// ParseVehicleType validates a vehicle type string.
func ParseVehicleType(s string) (VehicleType, error) {
	switch VehicleType(strings.ToLower(strings.TrimSpace(s))) {
	case Cars:
		return Cars, nil
	case Motorcycles:
		return Motorcycles, nil
	case Trucks:
		return Trucks, nil
	default:
		return "", fmt.Errorf("invalid vehicle type %q (use cars, motorcycles or trucks)", s)
	}
}

// Code is a catalog entity code. The API is inconsistent about whether
// codes arrive as JSON strings or numbers, so both are accepted.
type Code string

// UnmarshalJSON implements json.Unmarshaler.
func (c *Code) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*c = Code(s)
		return nil
	}
	*c = Code(string(b))
	return nil
}

// Int returns the numeric value of the code, or 0 if it is not numeric.
func (c Code) Int() int {
	n, err := strconv.Atoi(string(c))
	if err != nil {
		return 0
	}
	return n
}

// Reference identifies the pricing snapshot epoch (one per month).
type Reference struct {
	Code  Code   `json:"code"`
	Month string `json:"month"`
}

// Brand is one vehicle brand within a VehicleType and Reference.
type Brand struct {
	Code Code   `json:"code"`
	Name string `json:"name"`
}

// Model is one vehicle model within a Brand.
type Model struct {
	Code Code   `json:"code"`
	Name string `json:"name"`
}

// YearOption is one model-year/fuel combination within a Model.
// The code is composite, e.g. "2014-3" (year dash fuel kind).
type YearOption struct {
	Code Code   `json:"code"`
	Name string `json:"name"`
}

// PriceSnapshot is the price lookup result for one
// (Brand, Model, YearOption) triple. Immutable once decoded.
type PriceSnapshot struct {
	Brand          string `json:"brand"`
	Model          string `json:"model"`
	ModelYear      int    `json:"modelYear"`
	Fuel           string `json:"fuel"`
	FuelAcronym    string `json:"fuelAcronym"`
	CodeFipe       string `json:"codeFipe"`
	ReferenceMonth string `json:"referenceMonth"`
	Price          string `json:"price"`
}

// LatestReference returns the reference with the highest numeric code,
// which the API publishes as the most recent month. Falls back to the
// first entry when codes are not numeric.
func LatestReference(refs []Reference) (Reference, bool) {
	if len(refs) == 0 {
		return Reference{}, false
	}
	latest := refs[0]
	for _, r := range refs[1:] {
		if r.Code.Int() > latest.Code.Int() {
			latest = r
		}
	}
	return latest, true
}
