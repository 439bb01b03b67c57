package history

import "time"

// Record is one formatted telemetry sample as shown to the operator.
type Record struct {
	Date        string `json:"date"`
	Time        string `json:"time"`
	Mode        string `json:"mode"`
	Temperature string `json:"temperature"`
	FillRate    string `json:"fill_rate"`
	Volume      string `json:"volume"`
	Alarms      string `json:"alarms"`
}

// Entry is a stored Record with its position in the tank's history.
type Entry struct {
	Seq        int64     `json:"seq"`
	TankID     string    `json:"tank_id"`
	RecordedAt time.Time `json:"recorded_at"`
	Record     Record    `json:"record"`
}
