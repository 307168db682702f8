package engine

import "fmt"

type Role string

const (
	RoleDon      Role = "don"
	RoleMafia    Role = "mafia"
	RoleSheriff  Role = "sheriff"
	RoleCivilian Role = "civilian"
)

type Team string

const (
	TeamMafia     Team = "mafia"
	TeamCivilians Team = "civilians"
)

func (r Role) Valid() bool {
	switch r {
	case RoleDon, RoleMafia, RoleSheriff, RoleCivilian:
		return true
	}
	return false
}

func (r Role) Team() Team {
	switch r {
	case RoleDon, RoleMafia:
		return TeamMafia
	case RoleSheriff, RoleCivilian:
		return TeamCivilians
	}
	return ""
}

// MinPlayers is the smallest table that fits the fixed roles.
const MinPlayers = 4

// RoleAssets is the per-role pool of character art references.
var RoleAssets = map[Role][]string{
	RoleDon: {
		"assets/mafia-don-character.png",
		"assets/mafia-don-character-2.png",
	},
	RoleMafia: {
		"assets/mafia-regular-character.png",
		"assets/mafia-regular-character-2.png",
		"assets/mafia-regular-character-3.png",
		"assets/mafia-regular-character-4.png",
	},
	RoleSheriff: {
		"assets/sheriff-character-1.png",
	},
	RoleCivilian: {
		"assets/civilian-character-1.png",
		"assets/civilian-character-2.png",
		"assets/civilian-character-3.png",
		"assets/civilian-character-4.png",
	},
}

// Source is the randomness behind seating. *math/rand/v2.Rand satisfies it.
type Source interface {
	Shuffle(n int, swap func(i, j int))
	IntN(n int) int
}

// RoleDeck returns the roles for an n-player table: one don, two mafia, one
// sheriff, civilians for the rest.
func RoleDeck(n int) []Role {
	deck := make([]Role, 0, n)
	deck = append(deck, RoleDon, RoleMafia, RoleMafia, RoleSheriff)
	for len(deck) < n {
		deck = append(deck, RoleCivilian)
	}
	return deck
}

// AssignRoles seats ids in a random order with indices 1..n and deals a
// separately shuffled role deck over those seats. Each seat gets a random
// asset from its role's pool.
func AssignRoles(ids []string, src Source) ([]Seat, error) {
	if len(ids) < MinPlayers {
		return nil, fmt.Errorf("%w: need at least %d players, have %d", ErrInvalidSeats, MinPlayers, len(ids))
	}

	order := make([]string, len(ids))
	copy(order, ids)
	src.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })

	deck := RoleDeck(len(order))
	src.Shuffle(len(deck), func(i, j int) { deck[i], deck[j] = deck[j], deck[i] })
	seats := make([]Seat, len(order))
	for i, id := range order {
		role := deck[i]
		seats[i] = Seat{
			ID:    id,
			Index: i + 1,
			Role:  role,
			Asset: randomAsset(role, src),
		}
	}
	return seats, nil
}

func randomAsset(role Role, src Source) string {
	pool := RoleAssets[role]
	if len(pool) == 0 {
		return ""
	}
	return pool[src.IntN(len(pool))]
}

// ValidateSeats checks a seating produced outside AssignRoles: unique ids,
// indices exactly 1..n, and the role deck for n players.
func ValidateSeats(seats []Seat) error {
	if len(seats) < MinPlayers {
		return fmt.Errorf("%w: %d seats", ErrInvalidSeats, len(seats))
	}

	ids := make(map[string]bool, len(seats))
	indices := make(map[int]bool, len(seats))
	counts := make(map[Role]int)
	for _, seat := range seats {
		if seat.ID == "" || ids[seat.ID] {
			return fmt.Errorf("%w: duplicate or empty id %q", ErrInvalidSeats, seat.ID)
		}
		if seat.Index < 1 || seat.Index > len(seats) || indices[seat.Index] {
			return fmt.Errorf("%w: bad index %d", ErrInvalidSeats, seat.Index)
		}
		if !seat.Role.Valid() {
			return fmt.Errorf("%w: bad role %q", ErrInvalidSeats, seat.Role)
		}
		ids[seat.ID] = true
		indices[seat.Index] = true
		counts[seat.Role]++
	}

	want := make(map[Role]int)
	for _, role := range RoleDeck(len(seats)) {
		want[role]++
	}
	for role, n := range want {
		if counts[role] != n {
			return fmt.Errorf("%w: want %d %s, have %d", ErrInvalidSeats, n, role, counts[role])
		}
	}
	return nil
}
