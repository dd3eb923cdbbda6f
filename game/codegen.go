package game

import (
	"math/rand"
	"sync"
	"time"
)

const roomCodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
const RoomCodeLength = 6

// CodeGen produces 6-character room codes. Collisions are possible and are
// handled by the caller retrying against the store.
type CodeGen struct {
	locker sync.Mutex
	rng    *rand.Rand
}

func NewCodeGen() *CodeGen {
	return &CodeGen{rng: rand.New(rand.NewSource(time.Now().UnixNano()))}
}

func (g *CodeGen) Generate() string {
	g.locker.Lock()
	defer g.locker.Unlock()

	code := make([]byte, RoomCodeLength)
	for i := range code {
		code[i] = roomCodeAlphabet[g.rng.Intn(len(roomCodeAlphabet))]
	}
	return string(code)
}
