package dataset

import (
	"sort"

	"github.com/cnclabs/contextrec/internal/logging"
)

// Interaction is one user-item event.
type Interaction struct {
	UserID    int
	ItemID    int
	Timestamp float64
}

// InteractionLog collects user-item events and turns them into per-user
// chronological item streams.
type InteractionLog struct {
	Users *Vocabulary
	Items *Vocabulary

	// UserInteractions is indexed by user ID.
	UserInteractions [][]Interaction

	NumInteractions int
	MinTime         float64
	MaxTime         float64
}

// NewInteractionLog creates an empty log.
func NewInteractionLog() *InteractionLog {
	return &InteractionLog{
		Users:            NewVocabulary(),
		Items:            NewVocabulary(),
		UserInteractions: make([][]Interaction, 0),
		MinTime:          1e18,
		MaxTime:          -1e18,
	}
}

// Add records that user interacted with item at timestamp.
func (il *InteractionLog) Add(userKey, itemKey string, timestamp float64) {
	userID := il.Users.Add(userKey)
	itemID := il.Items.Add(itemKey)
	if userID == len(il.UserInteractions) {
		il.UserInteractions = append(il.UserInteractions, nil)
	}

	il.UserInteractions[userID] = append(il.UserInteractions[userID], Interaction{
		UserID:    userID,
		ItemID:    itemID,
		Timestamp: timestamp,
	})
	il.NumInteractions++

	if timestamp < il.MinTime {
		il.MinTime = timestamp
	}
	if timestamp > il.MaxTime {
		il.MaxTime = timestamp
	}
}

// Sort orders every user's interactions by timestamp. Ties keep their input
// order.
func (il *InteractionLog) Sort() {
	for _, events := range il.UserInteractions {
		sort.SliceStable(events, func(i, j int) bool {
			return events[i].Timestamp < events[j].Timestamp
		})
	}
}

// Stream concatenates the chronological item sequences of all users, in the
// order users were first seen.
func (il *InteractionLog) Stream() []int {
	stream := make([]int, 0, il.NumInteractions)
	for _, events := range il.UserInteractions {
		for _, e := range events {
			stream = append(stream, e.ItemID)
		}
	}
	return stream
}

// LogStatistics writes a summary of the log.
func (il *InteractionLog) LogStatistics(source string) {
	maxPerUser := 0
	for _, events := range il.UserInteractions {
		if len(events) > maxPerUser {
			maxPerUser = len(events)
		}
	}
	avg := 0.0
	if il.Users.Size() > 0 {
		avg = float64(il.NumInteractions) / float64(il.Users.Size())
	}

	logging.Info().
		Str("source", source).
		Int("users", il.Users.Size()).
		Int("items", il.Items.Size()).
		Int("interactions", il.NumInteractions).
		Float64("avg_per_user", avg).
		Int("max_per_user", maxPerUser).
		Msg("interaction log loaded")
}

// Split cuts a stream into consecutive train, valid and test parts. The
// fractions of train and valid are given; test gets the rest.
func Split(stream []int, trainFrac, validFrac float64) (train, valid, test []int) {
	n := len(stream)
	nTrain := int(float64(n) * trainFrac)
	nValid := int(float64(n) * validFrac)
	if nTrain+nValid > n {
		nValid = n - nTrain
	}
	return stream[:nTrain], stream[nTrain : nTrain+nValid], stream[nTrain+nValid:]
}
