package store

import (
	"testing"

	"github.com/dasein108/cex-arbitrage-sub007/pkg/types"
)

func testContext(taskID string, state types.TaskState) *types.TaskContext {
	ctx := types.NewTaskContext(taskID, types.Symbol{Base: "BTC", Quote: "USDT"}, types.MexcSpot, types.GateioFutures, types.StrategyParams{})
	ctx.StateName = state
	ctx.PositionsState.Positions[types.RoleSpot] = types.PositionEntry{Role: types.RoleSpot, Side: types.Buy, Quantity: 1.5, AvgPrice: 100}
	return ctx
}

func TestSaveAndLoadTask(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	ctx := testContext("task-1", types.TaskMonitoring)

	if err := s.SaveTask(ctx); err != nil {
		t.Fatalf("SaveTask: %v", err)
	}

	loaded, err := s.LoadTask("task-1")
	if err != nil {
		t.Fatalf("LoadTask: %v", err)
	}
	if loaded == nil {
		t.Fatal("LoadTask returned nil")
	}
	if loaded.TaskID != ctx.TaskID {
		t.Errorf("TaskID = %v, want %v", loaded.TaskID, ctx.TaskID)
	}
	if loaded.StateName != types.TaskMonitoring {
		t.Errorf("StateName = %v, want Monitoring", loaded.StateName)
	}
	got := loaded.PositionsState.Positions[types.RoleSpot]
	if got.Quantity != 1.5 || got.AvgPrice != 100 {
		t.Errorf("position = %+v, want qty=1.5 avg=100", got)
	}
}

func TestLoadTaskMissing(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	loaded, err := s.LoadTask("nonexistent")
	if err != nil {
		t.Fatalf("LoadTask: %v", err)
	}
	if loaded != nil {
		t.Errorf("expected nil for missing task, got %+v", loaded)
	}
}

func TestSaveTaskOverwrites(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	ctx1 := testContext("task-1", types.TaskMonitoring)
	ctx2 := testContext("task-1", types.TaskExecuting)

	_ = s.SaveTask(ctx1)
	_ = s.SaveTask(ctx2)

	loaded, err := s.LoadTask("task-1")
	if err != nil {
		t.Fatalf("LoadTask: %v", err)
	}
	if loaded.StateName != types.TaskExecuting {
		t.Errorf("StateName = %v, want Executing (latest save)", loaded.StateName)
	}
}

func TestLoadAllSkipsTerminalTasks(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	_ = s.SaveTask(testContext("task-active", types.TaskMonitoring))
	_ = s.SaveTask(testContext("task-done", types.TaskCompleted))
	_ = s.SaveTask(testContext("task-cancelled", types.TaskCancelled))

	all, err := s.LoadAll()
	if err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("LoadAll returned %d contexts, want 1", len(all))
	}
	if all[0].TaskID != "task-active" {
		t.Errorf("TaskID = %v, want task-active", all[0].TaskID)
	}
}

func TestDeleteTask(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	_ = s.SaveTask(testContext("task-1", types.TaskMonitoring))
	if err := s.DeleteTask("task-1"); err != nil {
		t.Fatalf("DeleteTask: %v", err)
	}

	loaded, err := s.LoadTask("task-1")
	if err != nil {
		t.Fatalf("LoadTask: %v", err)
	}
	if loaded != nil {
		t.Error("expected nil after delete")
	}
}
