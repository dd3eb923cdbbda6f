package domain

// Master is the account that owns rooms. Stored durably, unlike room state
// which lives in the shared realtime store.
type Master struct {
	Id           string
	Username     string
	PasswordHash string
}

// ArchivedRound is the durable record written when a round resolves.
type ArchivedRound struct {
	Id            string
	RoomCode      string
	Question      string
	WinnerKey     string
	WinnerName    string
	PointsAwarded int
	BidsCount     int
	StartedAt     int64
	EndedAt       int64
}
