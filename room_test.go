package main

import (
	"errors"
	"math"
	"testing"
)

func testSettings() GameSettings {
	return GameSettings{
		MinPlayers:    1,
		Multiplier:    0.8,
		MultiplierMin: 0.1,
		MultiplierMax: 1.9,
	}
}

func newTestRoom(t *testing.T, nicknames ...string) *Room {
	t.Helper()

	room := newRoom(1, "Test Room", testSettings())
	for _, n := range nicknames {
		if err := room.Join(n); err != nil {
			t.Fatalf("Join(%q) failed: %v", n, err)
		}
	}
	return room
}

// checkAdminInvariant fails the test unless exactly one connected
// player is admin, or zero when nobody is connected.
func checkAdminInvariant(t *testing.T, room *Room) {
	t.Helper()

	admins := 0
	connected := 0
	for _, p := range room.Players {
		if p.Connected {
			connected++
			if p.IsAdmin {
				admins++
			}
		}
	}

	if connected == 0 && admins != 0 {
		t.Errorf("Expected 0 connected admins in empty room, got %d", admins)
	}
	if connected > 0 && admins != 1 {
		t.Errorf("Expected exactly 1 connected admin with %d connected players, got %d", connected, admins)
	}
}

func TestFirstJoinerBecomesAdmin(t *testing.T) {
	room := newTestRoom(t, "P1", "P2")

	if !room.Players["P1"].IsAdmin {
		t.Error("First joiner should be admin")
	}
	if room.Players["P2"].IsAdmin {
		t.Error("Second joiner should not be admin")
	}
	checkAdminInvariant(t, room)
}

func TestAdminSuccessionOnLeave(t *testing.T) {
	room := newTestRoom(t, "P1", "P2", "P3")

	room.Leave("P1")

	if !room.Players["P2"].IsAdmin {
		t.Error("Oldest remaining player should inherit admin")
	}
	checkAdminInvariant(t, room)
}

func TestRoomResetsWhenEmpty(t *testing.T) {
	room := newTestRoom(t, "P1", "P2")

	if !room.SetMultiplier("P1", 0.5) {
		t.Fatal("SetMultiplier failed")
	}
	if !room.StartGame("P1") {
		t.Fatal("StartGame failed")
	}
	room.ChooseNumber("P1", 30)
	room.ChooseNumber("P2", 70)

	room.Leave("P1")
	room.Leave("P2")

	if len(room.Players) != 0 {
		t.Errorf("Expected empty roster after reset, got %d players", len(room.Players))
	}
	if room.Status != statusWaiting {
		t.Errorf("Expected status %q after reset, got %q", statusWaiting, room.Status)
	}
	if room.CurrentRound != 0 {
		t.Errorf("Expected round 0 after reset, got %d", room.CurrentRound)
	}
	if len(room.History) != 0 {
		t.Errorf("Expected empty history after reset, got %d records", len(room.History))
	}
	if room.Multiplier != 0.8 {
		t.Errorf("Expected multiplier reset to 0.8, got %v", room.Multiplier)
	}

	// A fresh joiner into the reset room becomes admin again.
	if err := room.Join("P3"); err != nil {
		t.Fatalf("Join after reset failed: %v", err)
	}
	if !room.Players["P3"].IsAdmin {
		t.Error("First joiner after reset should be admin")
	}
	checkAdminInvariant(t, room)
}

func TestLeaveIsIdempotent(t *testing.T) {
	room := newTestRoom(t, "P1", "P2")

	room.Leave("P2")
	connectedAfterFirst := room.connectedCount()
	room.Leave("P2")

	if room.connectedCount() != connectedAfterFirst {
		t.Errorf("Second Leave changed connected count: %d != %d", room.connectedCount(), connectedAfterFirst)
	}
	if room.Players["P2"].Connected {
		t.Error("P2 should remain disconnected")
	}
	checkAdminInvariant(t, room)

	// Leaving an unknown nickname is also a no-op.
	room.Leave("nobody")
	checkAdminInvariant(t, room)
}

func TestReconnectKeepsAdminStatus(t *testing.T) {
	room := newTestRoom(t, "P1", "P2")

	room.Leave("P1")
	if !room.Players["P2"].IsAdmin {
		t.Fatal("P2 should be promoted after P1 leaves")
	}

	if err := room.Join("P1"); err != nil {
		t.Fatalf("Reconnect failed: %v", err)
	}

	// P1's stored admin flag survives; the duplicate is resolved in
	// roster order, so P1 is admin again and P2 is demoted.
	if !room.Players["P1"].IsAdmin {
		t.Error("Reconnecting P1 should keep admin status")
	}
	if room.Players["P2"].IsAdmin {
		t.Error("P2 should be demoted once P1 reconnects")
	}
	checkAdminInvariant(t, room)
}

func TestJoinRejectedMidGame(t *testing.T) {
	room := newTestRoom(t, "P1", "P2")

	if !room.StartGame("P1") {
		t.Fatal("StartGame failed")
	}

	err := room.Join("P3")
	if !errors.Is(err, errGameInProgress) {
		t.Fatalf("Expected errGameInProgress, got %v", err)
	}
	if len(room.Players) != 2 {
		t.Errorf("Rejected join must not mutate the roster, got %d players", len(room.Players))
	}

	// A known nickname may still reconnect mid-game.
	room.Leave("P2")
	if err := room.Join("P2"); err != nil {
		t.Errorf("Known player should reconnect mid-game, got %v", err)
	}
}

func TestStartGameRequiresAdmin(t *testing.T) {
	room := newTestRoom(t, "P1", "P2")

	if room.StartGame("P2") {
		t.Error("Non-admin start_game should be a no-op")
	}
	if room.Status != statusWaiting {
		t.Errorf("Status should remain %q, got %q", statusWaiting, room.Status)
	}
	if room.CurrentRound != 0 {
		t.Errorf("Round counter should remain 0, got %d", room.CurrentRound)
	}
}

func TestStartGameRequiresWaiting(t *testing.T) {
	room := newTestRoom(t, "P1")

	if !room.StartGame("P1") {
		t.Fatal("StartGame failed")
	}
	if room.StartGame("P1") {
		t.Error("StartGame should be a no-op outside waiting")
	}
	if room.CurrentRound != 1 {
		t.Errorf("Expected round 1, got %d", room.CurrentRound)
	}
}

func TestMinimumPlayersToStart(t *testing.T) {
	settings := testSettings()
	settings.MinPlayers = 2
	room := newRoom(1, "Test Room", settings)

	if err := room.Join("P1"); err != nil {
		t.Fatal(err)
	}
	if room.StartGame("P1") {
		t.Error("StartGame should fail below the minimum player count")
	}

	if err := room.Join("P2"); err != nil {
		t.Fatal(err)
	}
	if !room.StartGame("P1") {
		t.Error("StartGame should succeed at the minimum player count")
	}
}

func TestTwoPlayerRound(t *testing.T) {
	room := newTestRoom(t, "P1", "P2")

	if !room.StartGame("P1") {
		t.Fatal("StartGame failed")
	}
	if room.Status != statusChoosing {
		t.Fatalf("Expected status %q, got %q", statusChoosing, room.Status)
	}
	if room.CurrentRound != 1 {
		t.Fatalf("Expected round 1, got %d", room.CurrentRound)
	}

	if !room.ChooseNumber("P1", 30) {
		t.Fatal("P1 choose failed")
	}
	if room.Status != statusChoosing {
		t.Fatal("Round should not finalize until everyone picked")
	}
	if !room.ChooseNumber("P2", 70) {
		t.Fatal("P2 choose failed")
	}

	if room.Status != statusResults {
		t.Fatalf("Expected status %q after all picks, got %q", statusResults, room.Status)
	}
	if len(room.History) != 1 {
		t.Fatalf("Expected 1 history record, got %d", len(room.History))
	}

	record := room.History[0]
	if record.RoundNumber != 1 {
		t.Errorf("Expected round number 1, got %d", record.RoundNumber)
	}
	if record.TotalSum != 100 {
		t.Errorf("Expected sum 100, got %v", record.TotalSum)
	}
	if record.Average != 50 {
		t.Errorf("Expected average 50, got %v", record.Average)
	}
	if record.TargetNumber != 40 {
		t.Errorf("Expected target 40, got %v", record.TargetNumber)
	}
	if record.Winner != "P1" {
		t.Errorf("Expected winner P1 (|30-40| < |70-40|), got %q", record.Winner)
	}
}

func TestChooseNumberBoundaries(t *testing.T) {
	tests := []struct {
		name     string
		value    float64
		accepted bool
	}{
		{"below range", -1, false},
		{"above range", 101, false},
		{"lower bound", 0, true},
		{"upper bound", 100, true},
		{"fractional", 50.5, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			room := newTestRoom(t, "P1", "P2")
			if !room.StartGame("P1") {
				t.Fatal("StartGame failed")
			}

			changed := room.ChooseNumber("P1", tt.value)
			if changed != tt.accepted {
				t.Errorf("ChooseNumber(%v) = %v, want %v", tt.value, changed, tt.accepted)
			}
			if !tt.accepted && room.Players["P1"].Number != nil {
				t.Errorf("Rejected value %v must not be stored", tt.value)
			}
			if tt.accepted && (room.Players["P1"].Number == nil || *room.Players["P1"].Number != int(tt.value)) {
				t.Errorf("Accepted value %v not stored", tt.value)
			}
		})
	}
}

func TestSecondChoiceDropped(t *testing.T) {
	room := newTestRoom(t, "P1", "P2")

	if !room.StartGame("P1") {
		t.Fatal("StartGame failed")
	}
	if !room.ChooseNumber("P1", 30) {
		t.Fatal("First choice failed")
	}
	if room.ChooseNumber("P1", 40) {
		t.Error("Second choice in the same round should be dropped")
	}
	if *room.Players["P1"].Number != 30 {
		t.Errorf("Expected stored number 30, got %d", *room.Players["P1"].Number)
	}
}

func TestChooseNumberOutsideChoosing(t *testing.T) {
	room := newTestRoom(t, "P1", "P2")

	if room.ChooseNumber("P1", 50) {
		t.Error("ChooseNumber should be a no-op while waiting")
	}
	if room.Players["P1"].Number != nil {
		t.Error("No value should be stored while waiting")
	}
}

func TestForceFinishExcludesNonResponders(t *testing.T) {
	room := newTestRoom(t, "P1", "P2")

	if !room.StartGame("P1") {
		t.Fatal("StartGame failed")
	}
	if !room.ChooseNumber("P2", 50) {
		t.Fatal("P2 choose failed")
	}

	if !room.ForceFinishRound("P1") {
		t.Fatal("ForceFinishRound failed")
	}

	if room.Players["P1"].Connected {
		t.Error("Non-responder should be marked disconnected")
	}
	if room.Status != statusResults {
		t.Fatalf("Expected status %q, got %q", statusResults, room.Status)
	}

	record := room.History[0]
	if record.Winner != "P2" {
		t.Errorf("Expected winner P2, got %q", record.Winner)
	}
	if record.TargetNumber != 40 {
		t.Errorf("Expected target 50*0.8=40, got %v", record.TargetNumber)
	}
	if len(record.PlayersData) != 1 {
		t.Errorf("Expected only P2 in players data, got %d entries", len(record.PlayersData))
	}
	if record.PlayersData["P2"] != 50 {
		t.Errorf("Expected P2's pick 50 in players data, got %d", record.PlayersData["P2"])
	}
}

func TestForceFinishWithNoPicks(t *testing.T) {
	room := newTestRoom(t, "P1")

	if !room.StartGame("P1") {
		t.Fatal("StartGame failed")
	}
	if !room.ForceFinishRound("P1") {
		t.Fatal("ForceFinishRound failed")
	}

	record := room.History[0]
	if record.Winner != "" {
		t.Errorf("Expected no winner with zero picks, got %q", record.Winner)
	}
	if record.Average != 0 || record.TargetNumber != 0 {
		t.Errorf("Expected degenerate zero average/target, got %v/%v", record.Average, record.TargetNumber)
	}
}

func TestChooseAfterForceFinishFlag(t *testing.T) {
	room := newTestRoom(t, "P1", "P2", "P3")

	if !room.StartGame("P1") {
		t.Fatal("StartGame failed")
	}
	room.ChooseNumber("P1", 10)
	room.ChooseNumber("P2", 20)
	if !room.ForceFinishRound("P1") {
		t.Fatal("ForceFinishRound failed")
	}

	// A new round clears the flag and allows picks again.
	if !room.NewRound("P1") {
		t.Fatal("NewRound failed")
	}
	if room.forceFinished {
		t.Error("forceFinished should be cleared by a new round")
	}
	if !room.ChooseNumber("P1", 42) {
		t.Error("Picks should be accepted in the new round")
	}
}

func TestRemovePlayer(t *testing.T) {
	room := newTestRoom(t, "P1", "P2", "P3")

	if room.RemovePlayer("P1", "P3") {
		t.Error("RemovePlayer should be a no-op while waiting")
	}

	if !room.StartGame("P1") {
		t.Fatal("StartGame failed")
	}

	if room.RemovePlayer("P2", "P3") {
		t.Error("Non-admin RemovePlayer should be a no-op")
	}
	if room.RemovePlayer("P1", "P1") {
		t.Error("Admin removing themselves should be a no-op")
	}
	if room.RemovePlayer("P1", "nobody") {
		t.Error("Removing an unknown player should be a no-op")
	}

	room.ChooseNumber("P1", 10)
	room.ChooseNumber("P2", 20)

	// Removing the only holdout finalizes the round for the rest.
	if !room.RemovePlayer("P1", "P3") {
		t.Fatal("RemovePlayer failed")
	}
	if room.Players["P3"].Connected {
		t.Error("Removed player should be marked disconnected")
	}
	if room.Status != statusResults {
		t.Errorf("Expected round to finalize after removal, status %q", room.Status)
	}
	if len(room.History) != 1 || len(room.History[0].PlayersData) != 2 {
		t.Error("Removed player must be excluded from the round record")
	}
}

func TestWinnerTieBreakByJoinOrder(t *testing.T) {
	room := newTestRoom(t, "P1", "P2")

	if !room.SetMultiplier("P1", 1.0) {
		t.Fatal("SetMultiplier failed")
	}
	if !room.StartGame("P1") {
		t.Fatal("StartGame failed")
	}

	// Average 40, target 40: both picks are 10 away.
	room.ChooseNumber("P2", 50)
	room.ChooseNumber("P1", 30)

	if room.History[0].Winner != "P1" {
		t.Errorf("Tie should go to the earliest joiner, got %q", room.History[0].Winner)
	}
}

func TestSetMultiplier(t *testing.T) {
	tests := []struct {
		name     string
		actor    string
		value    float64
		accepted bool
	}{
		{"admin in range", "P1", 1.5, true},
		{"lower bound", "P1", 0.1, true},
		{"upper bound", "P1", 1.9, true},
		{"below range", "P1", 0.05, false},
		{"above range", "P1", 2.0, false},
		{"non-admin", "P2", 1.0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			room := newTestRoom(t, "P1", "P2")

			changed := room.SetMultiplier(tt.actor, tt.value)
			if changed != tt.accepted {
				t.Errorf("SetMultiplier(%q, %v) = %v, want %v", tt.actor, tt.value, changed, tt.accepted)
			}
			if tt.accepted && room.Multiplier != tt.value {
				t.Errorf("Multiplier not applied: got %v", room.Multiplier)
			}
			if !tt.accepted && room.Multiplier != 0.8 {
				t.Errorf("Rejected multiplier must not change state: got %v", room.Multiplier)
			}
		})
	}
}

func TestSetMultiplierOnlyWhileWaiting(t *testing.T) {
	room := newTestRoom(t, "P1")

	if !room.StartGame("P1") {
		t.Fatal("StartGame failed")
	}
	if room.SetMultiplier("P1", 1.0) {
		t.Error("SetMultiplier should be a no-op outside waiting")
	}
}

func TestStopGame(t *testing.T) {
	room := newTestRoom(t, "P1", "P2")

	if !room.StartGame("P1") {
		t.Fatal("StartGame failed")
	}
	room.ChooseNumber("P1", 25)

	if room.StopGame("P2") {
		t.Error("Non-admin stop_game should be a no-op")
	}
	if !room.StopGame("P1") {
		t.Fatal("StopGame failed")
	}

	if room.Status != statusWaiting {
		t.Errorf("Expected status %q, got %q", statusWaiting, room.Status)
	}
	if room.Players["P1"].Number != nil {
		t.Error("Picks should be cleared on stop")
	}
	checkAdminInvariant(t, room)
}

func TestClearHistory(t *testing.T) {
	room := newTestRoom(t, "P1", "P2")

	room.StartGame("P1")
	room.ChooseNumber("P1", 30)
	room.ChooseNumber("P2", 70)

	if room.ClearHistory("P2") {
		t.Error("Non-admin clear_history should be a no-op")
	}
	if len(room.History) != 1 {
		t.Fatal("Setup should have produced one record")
	}

	if !room.ClearHistory("P1") {
		t.Fatal("ClearHistory failed")
	}
	if len(room.History) != 0 {
		t.Errorf("Expected empty history, got %d records", len(room.History))
	}
}

func TestNewRoundIncrementsCounter(t *testing.T) {
	room := newTestRoom(t, "P1", "P2")

	room.StartGame("P1")
	room.ChooseNumber("P1", 30)
	room.ChooseNumber("P2", 70)

	if !room.NewRound("P1") {
		t.Fatal("NewRound failed")
	}
	if room.Status != statusChoosing {
		t.Errorf("Expected status %q, got %q", statusChoosing, room.Status)
	}
	if room.CurrentRound != 2 {
		t.Errorf("Expected round 2, got %d", room.CurrentRound)
	}
	if room.Players["P1"].Number != nil || room.Players["P2"].Number != nil {
		t.Error("Picks should be cleared at round start")
	}

	room.ChooseNumber("P1", 1)
	room.ChooseNumber("P2", 2)
	if room.History[1].RoundNumber <= room.History[0].RoundNumber {
		t.Error("Round numbers must strictly increase across history")
	}
}

func TestHistorySumRoundTrip(t *testing.T) {
	room := newTestRoom(t, "P1", "P2", "P3")

	room.StartGame("P1")
	room.ChooseNumber("P1", 13)
	room.ChooseNumber("P2", 47)
	room.ChooseNumber("P3", 82)

	record := room.History[0]

	sum := 0.0
	for _, n := range record.PlayersData {
		sum += float64(n)
	}
	if math.Abs(sum-record.TotalSum) > 0.01 {
		t.Errorf("Sum recomputed from players_data (%v) != stored sum (%v)", sum, record.TotalSum)
	}
	if math.Abs(sum/float64(len(record.PlayersData))-record.Average) > 0.01 {
		t.Errorf("Average recomputed from players_data != stored average (%v)", record.Average)
	}
	if math.Abs(record.Average*room.Multiplier-record.TargetNumber) > 0.01 {
		t.Errorf("Target (%v) != average × multiplier", record.TargetNumber)
	}
}

func TestAdminInvariantAcrossOperations(t *testing.T) {
	room := newTestRoom(t, "P1", "P2", "P3")
	checkAdminInvariant(t, room)

	room.StartGame("P1")
	checkAdminInvariant(t, room)

	room.ChooseNumber("P2", 40)
	checkAdminInvariant(t, room)

	room.Leave("P1")
	checkAdminInvariant(t, room)

	room.Leave("P2")
	checkAdminInvariant(t, room)

	room.Leave("P3")
	checkAdminInvariant(t, room)
}
