package leaderboard

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"sort"
	"unicode/utf8"

	"github.com/fortiblox/rock-destroyer/internal/types"
)

// Layout limits.
const (
	MaxPlayers     = 5
	MaxUsernameLen = 32

	// PlayerSpace is the worst-case encoded size of one Player:
	// username (4 + 32) + pubkey (32) + score (8) + has_payed (1).
	PlayerSpace = 4 + MaxUsernameLen + types.PubkeySize + 8 + 1

	// LeaderboardSpace is the allocated size of a leaderboard account:
	// discriminator (8) + owner (32) + players (4 + MaxPlayers*PlayerSpace).
	LeaderboardSpace = 8 + types.PubkeySize + 4 + MaxPlayers*PlayerSpace
)

// AccountDiscriminator prefixes every leaderboard account.
var AccountDiscriminator = discriminator("account:Leaderboard")

func discriminator(preimage string) [8]byte {
	sum := sha256.Sum256([]byte(preimage))
	var d [8]byte
	copy(d[:], sum[:8])
	return d
}

// Player is one registrant's entry.
type Player struct {
	Username string       `json:"username"`
	Pubkey   types.Pubkey `json:"pubkey"`
	Score    uint64       `json:"score"`
	HasPaid  bool         `json:"hasPayed"`
}

// Leaderboard is the per-game-owner record. Players keep registration order.
type Leaderboard struct {
	Owner   types.Pubkey `json:"owner"`
	Players []Player     `json:"players"`
}

// RegisterOutcome says how Register placed a player.
type RegisterOutcome int

const (
	// Appended means the player took a free slot at the end.
	Appended RegisterOutcome = iota
	// Repaid means an existing entry was re-armed for another score.
	Repaid
	// Replaced means the board was full and the lowest score was evicted.
	Replaced
)

func (o RegisterOutcome) String() string {
	switch o {
	case Appended:
		return "appended"
	case Repaid:
		return "repaid"
	case Replaced:
		return "replaced"
	default:
		return "unknown"
	}
}

// FindPlayer returns the index of identity's entry.
func (lb *Leaderboard) FindPlayer(identity types.Pubkey) (int, bool) {
	for i := range lb.Players {
		if lb.Players[i].Pubkey == identity {
			return i, true
		}
	}
	return -1, false
}

// Register records a paid entry for identity.
//
// An identity already on the board keeps its slot, username and score and
// has its entry re-armed. A new identity is appended while there is room;
// on a full board it takes the slot of the lowest score (earliest on ties).
// Callers must reject a re-registration whose previous entry is still unused.
func (lb *Leaderboard) Register(username string, identity types.Pubkey) (RegisterOutcome, *Player) {
	if i, ok := lb.FindPlayer(identity); ok {
		lb.Players[i].HasPaid = true
		return Repaid, nil
	}

	entry := Player{Username: username, Pubkey: identity, HasPaid: true}
	if len(lb.Players) < MaxPlayers {
		lb.Players = append(lb.Players, entry)
		return Appended, nil
	}

	lowest := 0
	for i := 1; i < len(lb.Players); i++ {
		if lb.Players[i].Score < lb.Players[lowest].Score {
			lowest = i
		}
	}
	evicted := lb.Players[lowest]
	lb.Players[lowest] = entry
	return Replaced, &evicted
}

// SubmitScore overwrites identity's score and spends its paid entry.
func (lb *Leaderboard) SubmitScore(identity types.Pubkey, score uint64) error {
	i, ok := lb.FindPlayer(identity)
	if !ok {
		return ErrPlayerNotFound
	}
	if !lb.Players[i].HasPaid {
		return ErrPlayerHasNotPaid
	}
	lb.Players[i].Score = score
	lb.Players[i].HasPaid = false
	return nil
}

// Ranking returns the players ordered by score, highest first. Equal scores
// keep registration order.
func (lb *Leaderboard) Ranking() []Player {
	ranked := make([]Player, len(lb.Players))
	copy(ranked, lb.Players)
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Score > ranked[j].Score
	})
	return ranked
}

// MarshalBinary encodes the account body, discriminator first.
func (lb *Leaderboard) MarshalBinary() ([]byte, error) {
	if len(lb.Players) > MaxPlayers {
		return nil, ErrAccountDidNotSerialize
	}
	buf := make([]byte, 0, LeaderboardSpace)
	buf = append(buf, AccountDiscriminator[:]...)
	buf = append(buf, lb.Owner[:]...)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(lb.Players)))
	for _, p := range lb.Players {
		if len(p.Username) > MaxUsernameLen {
			return nil, ErrAccountDidNotSerialize
		}
		buf = binary.LittleEndian.AppendUint32(buf, uint32(len(p.Username)))
		buf = append(buf, p.Username...)
		buf = append(buf, p.Pubkey[:]...)
		buf = binary.LittleEndian.AppendUint64(buf, p.Score)
		if p.HasPaid {
			buf = append(buf, 1)
		} else {
			buf = append(buf, 0)
		}
	}
	return buf, nil
}

// UnmarshalBinary decodes account data. Trailing bytes of the allocation are ignored.
func (lb *Leaderboard) UnmarshalBinary(data []byte) error {
	if len(data) < 8 {
		return ErrAccountDiscriminatorNotFound
	}
	if !bytes.Equal(data[:8], AccountDiscriminator[:]) {
		return ErrAccountDiscriminatorMismatch
	}

	d := decoder{data: data[8:]}
	var out Leaderboard
	copy(out.Owner[:], d.take(types.PubkeySize))
	n := d.u32()
	if d.err || n > MaxPlayers {
		return ErrAccountDidNotDeserialize
	}
	out.Players = make([]Player, 0, n)
	for i := uint32(0); i < n; i++ {
		var p Player
		ulen := d.u32()
		if ulen > MaxUsernameLen {
			return ErrAccountDidNotDeserialize
		}
		name := d.take(int(ulen))
		if !d.err && !utf8.Valid(name) {
			return ErrAccountDidNotDeserialize
		}
		p.Username = string(name)
		copy(p.Pubkey[:], d.take(types.PubkeySize))
		p.Score = d.u64()
		flag := d.take(1)
		if d.err || flag[0] > 1 {
			return ErrAccountDidNotDeserialize
		}
		p.HasPaid = flag[0] == 1
		out.Players = append(out.Players, p)
	}
	*lb = out
	return nil
}

// Decode parses leaderboard account data.
func Decode(data []byte) (*Leaderboard, error) {
	lb := new(Leaderboard)
	if err := lb.UnmarshalBinary(data); err != nil {
		return nil, err
	}
	return lb, nil
}

type decoder struct {
	data []byte
	off  int
	err  bool
}

func (d *decoder) take(n int) []byte {
	if d.err || d.off+n > len(d.data) {
		d.err = true
		return make([]byte, n)
	}
	b := d.data[d.off : d.off+n]
	d.off += n
	return b
}

func (d *decoder) u32() uint32 { return binary.LittleEndian.Uint32(d.take(4)) }
func (d *decoder) u64() uint64 { return binary.LittleEndian.Uint64(d.take(8)) }
