package store

// Well-known keys in the kv table. They mirror the browser storage keys the
// web client used so exported data stays recognizable.
const (
	KeyAccessToken      = "accessToken"
	KeyRefreshToken     = "refreshToken"
	KeyMeUser           = "meUser"
	KeyAttendanceActive = "attendance_active"
	KeyIntervalMillis   = "location_interval_ms"
)

// PendingLocation is a location sample waiting to be delivered.
type PendingLocation struct {
	ID            int64
	UserID        int64
	Latitude      float64
	Longitude     float64
	RecordedAt    string // ISO-8601, as sent to the backend
	Attempts      int
	NextAttemptAt int64 // unix millis; 0 = due immediately
	LastError     string
	CreatedAt     int64
}
