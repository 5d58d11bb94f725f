package audit

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestMemoryRecorderTailNewestFirst(t *testing.T) {
	ctx := context.Background()
	recorder := NewMemoryRecorder(16)

	for i := 0; i < 3; i++ {
		entry := Entry{
			Timestamp: time.Now(),
			Agent:     "Jarvis",
			Message:   fmt.Sprintf("to Cyril : message %d", i),
		}
		if err := recorder.Append(ctx, entry); err != nil {
			t.Fatalf("追加审计记录失败: %v", err)
		}
	}

	entries, err := recorder.Tail(ctx, 2)
	if err != nil {
		t.Fatalf("读取审计记录失败: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("期望 2 条记录, 实际 %d", len(entries))
	}
	if entries[0].Message != "to Cyril : message 2" {
		t.Fatalf("期望最新记录排在最前, 实际 %q", entries[0].Message)
	}
	if entries[1].Message != "to Cyril : message 1" {
		t.Fatalf("记录顺序不正确, 实际 %q", entries[1].Message)
	}
}

func TestMemoryRecorderEvictsOldest(t *testing.T) {
	ctx := context.Background()
	recorder := NewMemoryRecorder(2)

	for i := 0; i < 4; i++ {
		entry := Entry{Timestamp: time.Now(), Agent: "Jarvis", Message: fmt.Sprintf("m%d", i)}
		if err := recorder.Append(ctx, entry); err != nil {
			t.Fatalf("追加审计记录失败: %v", err)
		}
	}

	entries, err := recorder.Tail(ctx, 0)
	if err != nil {
		t.Fatalf("读取审计记录失败: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("期望容量上限为 2, 实际保留 %d 条", len(entries))
	}
	if entries[0].Message != "m3" || entries[1].Message != "m2" {
		t.Fatalf("淘汰顺序不正确: %q, %q", entries[0].Message, entries[1].Message)
	}
}

type failingRecorder struct{}

func (failingRecorder) Append(context.Context, Entry) error {
	return errors.New("storage unavailable")
}

func (failingRecorder) Tail(context.Context, int) ([]Entry, error) {
	return nil, errors.New("storage unavailable")
}

func TestRecordDegradesOnAppendFailure(t *testing.T) {
	// 审计写入失败不应中断协议流程。
	Record(context.Background(), failingRecorder{}, "Jarvis", "to Cyril : hello")
	Record(context.Background(), nil, "Jarvis", "to Cyril : hello")
}
