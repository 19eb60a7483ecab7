package models

import "time"

// Establishment represents a business captured from the map search results
type Establishment struct {
	Name       string
	Phone      string
	Address    string
	Locality   string    // Locality whose search produced this record
	CapturedAt time.Time // When the record was first saved
}

// Identity is the uniqueness key of an establishment.
// Name and address are compared exactly as extracted.
type Identity struct {
	Name    string
	Address string
}

// Key returns the identity of the establishment
func (e Establishment) Key() Identity {
	return Identity{Name: e.Name, Address: e.Address}
}

// Extracted is the fixed-shape result of reading one result entry.
// Fields that could not be read are left empty.
type Extracted struct {
	Name    string
	Phone   string
	Address string
}

// Complete reports whether both identity fields were read
func (x Extracted) Complete() bool {
	return x.Name != "" && x.Address != ""
}

// ToEstablishment attaches the locality to the extracted fields
func (x Extracted) ToEstablishment(locality string) Establishment {
	return Establishment{
		Name:     x.Name,
		Phone:    x.Phone,
		Address:  x.Address,
		Locality: locality,
	}
}
