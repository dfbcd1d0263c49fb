package parallel

import (
	"context"
	"testing"
)

func TestChunkProcessor(t *testing.T) {
	config := DefaultPoolConfig().WithWorkers(4)
	processor := NewChunkProcessor[int, int](config)

	items := make([]int, 1000)
	for i := range items {
		items[i] = i
	}

	result := processor.ProcessChunks(
		context.Background(),
		items,
		func(ctx context.Context, chunk []int, workerID int) int {
			sum := 0
			for _, v := range chunk {
				sum += v
			}
			return sum
		},
		func(results []int) int {
			total := 0
			for _, r := range results {
				total += r
			}
			return total
		},
	)

	expected := 0
	for i := 0; i < 1000; i++ {
		expected += i
	}

	if result != expected {
		t.Errorf("Expected %d, got %d", expected, result)
	}
}

func TestChunkProcessor_FewerItemsThanWorkers(t *testing.T) {
	processor := NewChunkProcessor[int, int](DefaultPoolConfig().WithWorkers(8))

	result := processor.ProcessChunks(
		context.Background(),
		[]int{1, 2, 3},
		func(ctx context.Context, chunk []int, workerID int) int {
			sum := 0
			for _, v := range chunk {
				sum += v
			}
			return sum
		},
		func(results []int) int {
			total := 0
			for _, r := range results {
				total += r
			}
			return total
		},
	)

	if result != 6 {
		t.Errorf("Expected 6, got %d", result)
	}
}

func TestChunkProcessor_Empty(t *testing.T) {
	processor := NewChunkProcessor[int, int](DefaultPoolConfig())

	result := processor.ProcessChunks(
		context.Background(),
		nil,
		func(ctx context.Context, chunk []int, workerID int) int { return 0 },
		func(results []int) int { return -1 },
	)

	if result != 0 {
		t.Errorf("Expected zero value for empty input, got %d", result)
	}
}

func BenchmarkChunkProcessor(b *testing.B) {
	processor := NewChunkProcessor[int, int](DefaultPoolConfig())
	items := make([]int, 10000)
	for i := range items {
		items[i] = i
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		processor.ProcessChunks(
			context.Background(),
			items,
			func(ctx context.Context, chunk []int, workerID int) int {
				sum := 0
				for _, v := range chunk {
					sum += v
				}
				return sum
			},
			func(results []int) int {
				total := 0
				for _, r := range results {
					total += r
				}
				return total
			},
		)
	}
}
