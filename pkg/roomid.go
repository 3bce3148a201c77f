package pkg

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// IDGenerator produces candidate room ids. The Registry retries until a
// candidate is unused, so generators only need to be unlikely to repeat.
type IDGenerator func() RoomID

// NewIDGenerator returns the generator for a configured id style.
func NewIDGenerator(style string) (IDGenerator, error) {
	switch style {
	case "", "uuid":
		return UUIDRoomID, nil
	case "words":
		return WordRoomID, nil
	default:
		return nil, fmt.Errorf("unknown room id style %q", style)
	}
}

func UUIDRoomID() RoomID {
	return RoomID(uuid.NewString())
}

var (
	roomAdjectives = []string{
		"bold", "quiet", "sharp", "gambit", "swift", "patient", "brave", "sly",
		"royal", "silent", "daring", "calm", "fierce", "clever", "steady", "wild",
		"hidden", "open", "closed", "lucky", "grand", "humble", "restless", "keen",
	}
	roomPieces = []string{
		"pawn", "knight", "bishop", "rook", "queen", "king",
		"castle", "fianchetto", "outpost", "battery", "fork", "pin",
		"skewer", "tempo", "zugzwang", "endgame", "opening", "checkmate",
	}
	roomOpenings = []string{
		"sicilian", "french", "caro", "ruy", "italian", "scotch", "english",
		"dutch", "slav", "grunfeld", "najdorf", "dragon", "benoni", "catalan",
		"pirc", "alekhine", "london", "vienna", "petrov", "scandinavian",
	}
	roomFiles = "abcdefgh"
)

// WordRoomID returns a memorable id such as "quiet-bishop-najdorf-e4".
func WordRoomID() RoomID {
	square := fmt.Sprintf("%c%d", roomFiles[randomIndex(len(roomFiles))], randomIndex(8)+1)
	return RoomID(strings.Join([]string{
		roomAdjectives[randomIndex(len(roomAdjectives))],
		roomPieces[randomIndex(len(roomPieces))],
		roomOpenings[randomIndex(len(roomOpenings))],
		square,
	}, "-"))
}

func randomIndex(max int) int {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(max)))
	if err != nil {
		log.Panic("Failed to generate random index: ", err)
	}
	return int(n.Int64())
}
