package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"

	"github.com/fortiblox/rock-destroyer/internal/types"
	"github.com/fortiblox/rock-destroyer/pkg/geyser"
	"github.com/fortiblox/rock-destroyer/pkg/svm/programs/leaderboard"
)

func expectEvent(wantType string) mocks.ValueChecker {
	return func(val []byte) error {
		var ev Event
		if err := json.Unmarshal(val, &ev); err != nil {
			return err
		}
		if ev.Type != wantType {
			return fmt.Errorf("type = %q, want %q", ev.Type, wantType)
		}
		if ev.ID == "" {
			return errors.New("missing event id")
		}
		return nil
	}
}

func TestPublishesEvents(t *testing.T) {
	producer := mocks.NewAsyncProducer(t, NewSaramaConfig("test"))
	producer.ExpectInputWithCheckerFunctionAndSucceed(expectEvent(EventLeaderboard))
	producer.ExpectInputWithCheckerFunctionAndSucceed(expectEvent(EventAccount))
	producer.ExpectInputWithCheckerFunctionAndSucceed(expectEvent(EventTransaction))
	producer.ExpectInputWithCheckerFunctionAndFail(expectEvent(EventSlot), sarama.ErrOutOfBrokers)

	p := NewWithProducer(producer, Config{Topic: "events"})
	ctx := context.Background()

	lb := &leaderboard.Leaderboard{Owner: types.Pubkey{1}, Players: []leaderboard.Player{{Username: "camperbot", Pubkey: types.Pubkey{2}, Score: 10}}}
	data, err := lb.MarshalBinary()
	if err != nil {
		t.Fatal(err)
	}
	if err := p.OnAccountUpdate(ctx, &geyser.AccountUpdate{Pubkey: types.Pubkey{3}, Owner: types.LeaderboardProgramID, Data: data}); err != nil {
		t.Fatal(err)
	}
	if err := p.OnAccountUpdate(ctx, &geyser.AccountUpdate{Pubkey: types.Pubkey{2}, Owner: types.SystemProgramAddr, Lamports: 5}); err != nil {
		t.Fatal(err)
	}
	if err := p.OnTransaction(ctx, &geyser.TransactionUpdate{Signature: types.Signature{4}, Slot: 1}); err != nil {
		t.Fatal(err)
	}
	if err := p.OnSlot(ctx, &geyser.SlotUpdate{Slot: 2}); err != nil {
		t.Fatal(err)
	}

	if err := p.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	sent, failed := p.Stats()
	if sent != 3 || failed != 1 {
		t.Errorf("Stats() = %d sent, %d failed, want 3 and 1", sent, failed)
	}
}

func TestNewRequiresBrokers(t *testing.T) {
	if _, err := New(Config{}); !errors.Is(err, ErrNoBrokers) {
		t.Errorf("New() error = %v, want ErrNoBrokers", err)
	}
}
