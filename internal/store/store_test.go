package store

import (
	"context"
	"errors"
	"testing"

	logx "medichine/pkg/logx"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := Open(Config{Dir: t.TempDir()}, logx.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestScheduleCRUD(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	id, err := st.SaveSchedule(ctx, "dev-1", Schedule{
		ContainerID: 2,
		Name:        "Aspirin",
		Time:        "8:00 am",
		Days:        "mon, WED ,fri",
		Quantity:    1,
	})
	if err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := st.GetSchedule(ctx, "dev-1", id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Time != "08:00 AM" {
		t.Errorf("time not canonicalized: %q", got.Time)
	}
	if got.Days != "Mon,Wed,Fri" {
		t.Errorf("days not canonicalized: %q", got.Days)
	}

	// Other devices must not see the row.
	if _, err := st.GetSchedule(ctx, "dev-2", id); !errors.Is(err, ErrNotFound) {
		t.Errorf("cross-device get: want ErrNotFound, got %v", err)
	}

	err = st.UpdateSchedule(ctx, "dev-1", id, Schedule{
		Name:     "Aspirin 2",
		Time:     "09:30 PM",
		Days:     "Sat",
		Quantity: 2,
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	got, err = st.GetSchedule(ctx, "dev-1", id)
	if err != nil {
		t.Fatalf("get after update: %v", err)
	}
	if got.ContainerID != 2 {
		t.Errorf("zero container id should keep existing, got %d", got.ContainerID)
	}
	if got.Quantity != 2 || got.Time != "09:30 PM" {
		t.Errorf("update not applied: %+v", got)
	}

	if err := st.DeleteSchedule(ctx, "dev-1", id); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := st.DeleteSchedule(ctx, "dev-1", id); !errors.Is(err, ErrNotFound) {
		t.Errorf("double delete: want ErrNotFound, got %v", err)
	}
}

func TestSaveScheduleRejectsBadInput(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	cases := []struct {
		name string
		sc   Schedule
	}{
		{"bad time", Schedule{ContainerID: 1, Name: "x", Time: "25:00", Days: "Mon", Quantity: 1}},
		{"zero container", Schedule{Name: "x", Time: "08:00 AM", Days: "Mon", Quantity: 1}},
		{"zero quantity", Schedule{ContainerID: 1, Name: "x", Time: "08:00 AM", Days: "Mon"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := st.SaveSchedule(ctx, "dev-1", tc.sc); err == nil {
				t.Errorf("want error, got nil")
			}
		})
	}
}

func TestListEntries(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	for _, sc := range []Schedule{
		{ContainerID: 1, Name: "A", Time: "08:00 AM", Days: "Mon", Quantity: 1},
		{ContainerID: 3, Name: "B", Time: "01:00 PM", Days: "Tue,Thu", Quantity: 2},
	} {
		if _, err := st.SaveSchedule(ctx, "dev-1", sc); err != nil {
			t.Fatalf("save: %v", err)
		}
	}

	entries, err := st.ListEntries(ctx, "dev-1")
	if err != nil {
		t.Fatalf("list entries: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("want 2 entries, got %d", len(entries))
	}
	if len(entries[1].Days) != 2 {
		t.Errorf("days not split: %v", entries[1].Days)
	}
}

func TestRegisterDeviceOwnership(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	res, err := st.RegisterDevice(ctx, "esp-1", "alice@example.com", "https://fb.example")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if !res.Success || res.Action != ActionRegistered {
		t.Fatalf("first register: %+v", res)
	}

	// Same owner re-registering is fine.
	res, err = st.RegisterDevice(ctx, "esp-1", "alice@example.com", "https://fb.example")
	if err != nil {
		t.Fatalf("re-register: %v", err)
	}
	if !res.Success {
		t.Fatalf("same-owner re-register denied: %+v", res)
	}

	// A different account is denied while the device is active.
	res, err = st.RegisterDevice(ctx, "esp-1", "mallory@example.com", "https://fb.example")
	if err != nil {
		t.Fatalf("register other: %v", err)
	}
	if res.Success || res.ErrorCode != "DEVICE_ALREADY_REGISTERED" {
		t.Fatalf("cross-owner register: %+v", res)
	}

	// After the owner disconnects, a new account can take over.
	res, err = st.DisconnectDevice(ctx, "esp-1", "alice@example.com")
	if err != nil || !res.Success {
		t.Fatalf("disconnect: %v %+v", err, res)
	}
	res, err = st.RegisterDevice(ctx, "esp-1", "bob@example.com", "https://fb.example")
	if err != nil {
		t.Fatalf("takeover register: %v", err)
	}
	if !res.Success || res.Action != ActionReactivated {
		t.Fatalf("takeover: %+v", res)
	}
	owner, err := st.DeviceOwner(ctx, "esp-1")
	if err != nil {
		t.Fatalf("owner: %v", err)
	}
	if owner != "bob@example.com" {
		t.Errorf("owner after takeover: %q", owner)
	}
}

func TestDisconnectRequiresOwner(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	if _, err := st.RegisterDevice(ctx, "esp-2", "alice@example.com", ""); err != nil {
		t.Fatalf("register: %v", err)
	}
	res, err := st.DisconnectDevice(ctx, "esp-2", "mallory@example.com")
	if err != nil {
		t.Fatalf("disconnect: %v", err)
	}
	if res.Success || res.ErrorCode != "NOT_OWNER" {
		t.Fatalf("non-owner disconnect: %+v", res)
	}
	active, err := st.IsDeviceRegistered(ctx, "esp-2")
	if err != nil {
		t.Fatalf("is registered: %v", err)
	}
	if !active {
		t.Error("device should remain active")
	}
}

func TestConnectionHistoryAudit(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	_, _ = st.RegisterDevice(ctx, "esp-3", "alice@example.com", "")
	_, _ = st.RegisterDevice(ctx, "esp-3", "mallory@example.com", "")

	events, err := st.ConnectionHistory(ctx, "esp-3", 10)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("want 2 events, got %d", len(events))
	}
	var denied bool
	for _, ev := range events {
		if ev.Action == "register_denied" && !ev.Success {
			denied = true
		}
	}
	if !denied {
		t.Errorf("denied attempt not audited: %+v", events)
	}
}

func TestHistoryAppendListDelete(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	id, err := st.AppendHistory(ctx, "dev-1", HistoryEntry{
		MedicineName:  "Aspirin",
		ContainerID:   1,
		Quantity:      1,
		ScheduledTime: "08:00 AM",
		ScheduledDays: "Mon,Wed",
		DatetimeTaken: "2025-03-03 08:01:12",
		TimeTaken:     "08:01 AM",
	})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if id == "" {
		t.Fatal("empty generated id")
	}

	list, err := st.ListHistory(ctx, "dev-1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 || list[0].MedicineName != "Aspirin" {
		t.Fatalf("list: %+v", list)
	}

	if err := st.DeleteHistory(ctx, "dev-1", id); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := st.DeleteHistory(ctx, "dev-1", id); !errors.Is(err, ErrNotFound) {
		t.Errorf("double delete: want ErrNotFound, got %v", err)
	}
}

func TestPruneHistory(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	// One fresh, one backdated past the cutoff.
	if _, err := st.AppendHistory(ctx, "dev-1", HistoryEntry{MedicineName: "fresh", ContainerID: 1, Quantity: 1}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if _, err := st.AppendHistory(ctx, "dev-1", HistoryEntry{
		MedicineName: "stale", ContainerID: 1, Quantity: 1,
		CreatedAt: "2020-01-01T00:00:00Z",
	}); err != nil {
		t.Fatalf("append stale: %v", err)
	}

	n, err := st.PruneHistory(ctx, 30)
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if n != 1 {
		t.Errorf("want 1 pruned, got %d", n)
	}
	list, err := st.ListHistory(ctx, "dev-1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 || list[0].MedicineName != "fresh" {
		t.Errorf("survivor: %+v", list)
	}
}
