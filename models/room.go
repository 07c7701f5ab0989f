package models

import "time"

type RoomStatus string

const (
	RoomStatusWaiting RoomStatus = "waiting"
	RoomStatusActive  RoomStatus = "active"
)

// Product is one catalog entry negotiated over in a round. ListPrice is the
// sticker value shown to the seller, not a constraint on offers.
type Product struct {
	Name      string  `json:"name"`
	ListPrice float64 `json:"list_price"`
}

// Room groups participants for repeated negotiation rounds. Display config
// and the product catalog come from the room catalog at startup; the member
// set is derived from participants and is not a column.
type Room struct {
	ID          string     `json:"id" gorm:"primaryKey"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Products    []Product  `json:"products" gorm:"serializer:json"`
	Round       int        `json:"round"`
	Status      RoomStatus `json:"status"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CurrentProduct indexes the catalog by round, wrapping at the end.
func (r *Room) CurrentProduct() Product {
	if len(r.Products) == 0 {
		return Product{}
	}
	idx := (r.Round - 1) % len(r.Products)
	if idx < 0 {
		idx = 0
	}
	return r.Products[idx]
}
