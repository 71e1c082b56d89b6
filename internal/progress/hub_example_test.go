package progress

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ExampleHub_Emit shows a custom sink tracking the last completed count.
func ExampleHub_Emit() {
	var last int
	capture := sinkFunc(func(_ context.Context, batch []Event) error {
		for _, evt := range batch {
			last = evt.Completed
		}
		return nil
	})
	hub := NewHub(Config{MaxBatchEvents: 1}, capture)

	runID := UUIDToBytes(uuid.MustParse("00000000-0000-0000-0000-000000000001"))
	for _, done := range []int{2, 5, 9} {
		hub.Emit(Event{RunID: runID, TS: time.Unix(0, 0), Stage: StageRunProgress, Total: 10, Completed: done})
	}
	if err := hub.Close(context.Background()); err != nil {
		panic(err)
	}

	fmt.Printf("completed: %d\n", last)
	// Output:
	// completed: 9
}

type sinkFunc func(context.Context, []Event) error

func (f sinkFunc) Consume(ctx context.Context, batch []Event) error {
	return f(ctx, batch)
}

func (sinkFunc) Close(context.Context) error {
	return nil
}
