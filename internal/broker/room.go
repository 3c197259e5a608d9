package broker

import "strings"

// Room is a named set of observer connections.
type Room string

const AdminRoom Room = "admin"

const reservationRoomPrefix = "reservation:"

// ReservationRoom is the room of everyone watching reservation id.
func ReservationRoom(id string) Room {
	return Room(reservationRoomPrefix + strings.TrimSpace(id))
}

func reservationRoomOrNone(id string) Room {
	if strings.TrimSpace(id) == "" {
		return ""
	}
	return ReservationRoom(id)
}
