package registry

import (
	"context"
	stdErrors "errors"
	"testing"
)

func TestRegisterIdempotent(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	agent := &Agent{
		AgentID:         "a1",
		OwnerAddress:    "0xowner",
		ContractAddress: "0:abcd",
		Metadata:        map[string]string{"label": "grid-bot"},
	}
	if err := store.Register(ctx, agent); err != nil {
		t.Fatalf("register: %v", err)
	}

	// 重复登记只更新元数据，不产生重复记录。
	if err := store.Register(ctx, &Agent{
		AgentID:  "a1",
		Metadata: map[string]string{"label": "grid-bot-v2", "note": "updated"},
	}); err != nil {
		t.Fatalf("re-register: %v", err)
	}

	all, err := store.List(ctx, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("期望 1 条记录，实际 %d", len(all))
	}
	got, err := store.Get(ctx, "a1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Metadata["label"] != "grid-bot-v2" || got.Metadata["note"] != "updated" {
		t.Fatalf("元数据未更新: %+v", got.Metadata)
	}
	if got.OwnerAddress != "0xowner" {
		t.Fatalf("首次注册信息被覆盖: %+v", got)
	}
}

func TestDeactivatePreservesHistory(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	for _, id := range []string{"a1", "a2", "a3"} {
		if err := store.Register(ctx, &Agent{AgentID: id, OwnerAddress: "0xowner"}); err != nil {
			t.Fatalf("register %s: %v", id, err)
		}
	}

	if err := store.Deactivate(ctx, "a2"); err != nil {
		t.Fatalf("deactivate: %v", err)
	}

	count, err := store.ActiveCount(ctx)
	if err != nil {
		t.Fatalf("active count: %v", err)
	}
	if count != 2 {
		t.Fatalf("活跃数量错误: %d", count)
	}

	// 停用后档案仍可查询。
	got, err := store.Get(ctx, "a2")
	if err != nil {
		t.Fatalf("get after deactivate: %v", err)
	}
	if got.Active {
		t.Fatal("停用标记未生效")
	}
}

func TestGetUnknownAgent(t *testing.T) {
	store := NewMemoryStore()
	_, err := store.Get(context.Background(), "missing")
	if !stdErrors.Is(err, ErrAgentNotFound) {
		t.Fatalf("未知代理应返回 ErrAgentNotFound: %v", err)
	}
	if err := store.Deactivate(context.Background(), "missing"); !stdErrors.Is(err, ErrAgentNotFound) {
		t.Fatalf("停用未知代理应返回 ErrAgentNotFound: %v", err)
	}
}
