package presence

import "fmt"

const (
	KeyStreamersOnline = "streamers:online"
	KeyStreamersSID    = "streamers:sid"
	KeyViewersOnline   = "viewers:online"
	KeyViewersSID      = "viewers:sid"

	// Pairing hashes, forward and reverse. Both must always agree.
	KeyStreamersViewers = "streamers:viewers"
	KeyViewersStreamers = "viewers:streamers"
)

func OnlineKey(role Role) string {
	if role == RoleStreamer {
		return KeyStreamersOnline
	}
	return KeyViewersOnline
}

func SessionKey(role Role) string {
	if role == RoleStreamer {
		return KeyStreamersSID
	}
	return KeyViewersSID
}

func SeatLockKey(streamerID int64) string {
	return fmt.Sprintf("lock:streamer:%d:connect", streamerID)
}
