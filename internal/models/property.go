package models

// Unit is a sellable property inside a compound.
type Unit struct {
	ID           int64   `json:"id"`
	CompoundID   int64   `json:"compound_id"`
	UnitNumber   string  `json:"unit_number"`
	UnitType     string  `json:"unit_type"`
	Area         float64 `json:"area"`
	Price        float64 `json:"price"`
	Bedrooms     int     `json:"bedrooms"`
	Bathrooms    int     `json:"bathrooms"`
	Floor        string  `json:"floor"`
	Status       string  `json:"status"`
	View         string  `json:"view"`
	Finishing    string  `json:"finishing"`
	DeliveryDate string  `json:"delivery_date"`
	Available    bool    `json:"available"`

	CompoundName string `json:"compound_name,omitempty"`
	Location     string `json:"location,omitempty"`
	Developer    string `json:"developer,omitempty"`
}

// PricePerSqm is price divided by area, with area floored at 1.
func (u *Unit) PricePerSqm() float64 {
	area := u.Area
	if area < 1 {
		area = 1
	}
	return u.Price / area
}

// Compound is a development project grouping units.
type Compound struct {
	ID             int64  `json:"id"`
	CompanyID      int64  `json:"company_id"`
	Project        string `json:"project"`
	Location       string `json:"location"`
	TotalUnits     int    `json:"total_units"`
	AvailableUnits int    `json:"available_units"`
	Developer      string `json:"developer,omitempty"`
}

// MarketStats aggregates unit prices for a compound, a location, or the whole catalog.
type MarketStats struct {
	Scope          string  `json:"scope"`
	AveragePrice   float64 `json:"average_price"`
	MinPrice       float64 `json:"min_price"`
	MaxPrice       float64 `json:"max_price"`
	AvailableUnits int     `json:"available_units"`
	TotalUnits     int     `json:"total_units"`
	AvgPricePerSqm float64 `json:"avg_price_per_sqm"`
}
