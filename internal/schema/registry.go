package schema

import "fmt"

// Scale is the number of decimal places used by a scaled integer.
// Example: Scale=8 means the integer value is scaled by 1e8.
type Scale int32

// ScaleSpec defines scaling for common numeric fields.
type ScaleSpec struct {
	PriceScale    Scale `json:"priceScale"`
	QuantityScale Scale `json:"quantityScale"`
}

// VenueID is the numeric identifier for a venue.
type VenueID uint16

// SymbolID is the numeric identifier for a symbol.
type SymbolID uint32

// Venue describes a trading venue.
type Venue struct {
	ID   VenueID
	Name string
}

// Symbol describes a tradable instrument on one venue.
type Symbol struct {
	ID      SymbolID
	VenueID VenueID
	Name    string
	Scale   ScaleSpec
	MinLot  Quantity
}

// Registry stores venue and symbol mappings in a compact form.
// It is built once at startup and read-only afterwards.
type Registry struct {
	venues       []Venue
	symbols      []Symbol
	venueByName  map[string]VenueID
	symbolByName map[string]SymbolID
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		venueByName:  make(map[string]VenueID),
		symbolByName: make(map[string]SymbolID),
	}
}

// AddVenue registers a new venue and returns its ID.
func (r *Registry) AddVenue(name string) (VenueID, error) {
	if name == "" {
		return 0, fmt.Errorf("venue name is empty")
	}
	if id, ok := r.venueByName[name]; ok {
		return id, fmt.Errorf("venue already exists: %s", name)
	}
	id := VenueID(len(r.venues) + 1)
	r.venues = append(r.venues, Venue{ID: id, Name: name})
	r.venueByName[name] = id
	return id, nil
}

// AddSymbol registers a new symbol and returns its ID. Symbol names are
// unique per venue, so the lookup key is "venue/name".
func (r *Registry) AddSymbol(name string, venueID VenueID, scale ScaleSpec, minLot Quantity) (SymbolID, error) {
	if name == "" {
		return 0, fmt.Errorf("symbol name is empty")
	}
	if _, ok := r.Venue(venueID); !ok {
		return 0, fmt.Errorf("venue id not found: %d", venueID)
	}
	key := r.symbolKey(venueID, name)
	if id, ok := r.symbolByName[key]; ok {
		return id, fmt.Errorf("symbol already exists: %s", key)
	}
	id := SymbolID(len(r.symbols) + 1)
	r.symbols = append(r.symbols, Symbol{
		ID:      id,
		VenueID: venueID,
		Name:    name,
		Scale:   scale,
		MinLot:  minLot,
	})
	r.symbolByName[key] = id
	return id, nil
}

// Venue returns the venue for an ID.
func (r *Registry) Venue(id VenueID) (Venue, bool) {
	idx := int(id) - 1
	if idx < 0 || idx >= len(r.venues) {
		return Venue{}, false
	}
	return r.venues[idx], true
}

// Symbol returns the symbol for an ID.
func (r *Registry) Symbol(id SymbolID) (Symbol, bool) {
	idx := int(id) - 1
	if idx < 0 || idx >= len(r.symbols) {
		return Symbol{}, false
	}
	return r.symbols[idx], true
}

// VenueIDByName resolves a venue name.
func (r *Registry) VenueIDByName(name string) (VenueID, bool) {
	id, ok := r.venueByName[name]
	return id, ok
}

// SymbolIDByName resolves a symbol name on a venue.
func (r *Registry) SymbolIDByName(venueID VenueID, name string) (SymbolID, bool) {
	id, ok := r.symbolByName[r.symbolKey(venueID, name)]
	return id, ok
}

// Symbols returns all registered symbols.
func (r *Registry) Symbols() []Symbol {
	out := make([]Symbol, len(r.symbols))
	copy(out, r.symbols)
	return out
}

// Venues returns all registered venues.
func (r *Registry) Venues() []Venue {
	out := make([]Venue, len(r.venues))
	copy(out, r.venues)
	return out
}

func (r *Registry) symbolKey(venueID VenueID, name string) string {
	venue := ""
	if v, ok := r.Venue(venueID); ok {
		venue = v.Name
	}
	return venue + "/" + name
}
