package models

import "time"

// CourierPresence is the live availability record of a courier.
type CourierPresence struct {
	CourierID     string  `json:"courier_id"`
	FullName      string  `json:"full_name,omitempty"`
	Mobile        string  `json:"mobile,omitempty"`
	Latitude      float64 `json:"latitude"`
	Longitude     float64 `json:"longitude"`
	IsActive      bool    `json:"is_active"`
	IsBusy        bool    `json:"is_busy"`
	ActiveOrderID string  `json:"active_order_id,omitempty"`
	LastUpdate    int64   `json:"last_update"`
}

func (p CourierPresence) Point() Point {
	return Point{Lat: p.Latitude, Lon: p.Longitude}
}

// LocationSample is a latest-wins position of a courier on an order.
// Timestamp is Unix milliseconds.
type LocationSample struct {
	OrderID   string  `json:"order_id"`
	CourierID string  `json:"courier_id"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Timestamp int64   `json:"timestamp"`
}

func (s LocationSample) Point() Point {
	return Point{Lat: s.Latitude, Lon: s.Longitude}
}

// Time converts the sample timestamp to time.Time.
func (s LocationSample) Time() time.Time {
	return time.UnixMilli(s.Timestamp)
}

type CourierStats struct {
	TodayDeliveries int     `json:"today_deliveries"`
	TodayEarnings   float64 `json:"today_earnings"`
	TotalDeliveries int     `json:"total_deliveries"`
	TotalEarnings   float64 `json:"total_earnings"`
}
