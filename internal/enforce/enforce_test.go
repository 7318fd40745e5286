package enforce

import (
	"testing"
	"time"

	"github.com/flushguard/engine/internal/policy"
)

func TestParseMode(t *testing.T) {
	for _, valid := range []string{"low", "medium", "extreme"} {
		mode, err := ParseMode(valid)
		if err != nil {
			t.Errorf("ParseMode(%q): %v", valid, err)
		}
		if string(mode) != valid {
			t.Errorf("ParseMode(%q) = %q", valid, mode)
		}
	}

	for _, invalid := range []string{"", "LOW", "paranoid", "medium ", "high"} {
		if _, err := ParseMode(invalid); err == nil {
			t.Errorf("ParseMode(%q) accepted an undefined mode", invalid)
		}
	}
}

func TestMediumModeProgression(t *testing.T) {
	cfg := DefaultConfig()

	// Four consecutive high-severity violations walk the full ladder,
	// one step each, never skipping.
	steps := []struct {
		from     Tier
		wantTier Tier
		wantKind ActionKind
	}{
		{TierNone, TierWarned, ActionWarn},
		{TierWarned, TierMuted, ActionMute},
		{TierMuted, TierTempBanned, ActionTempBan},
		{TierTempBanned, TierPermBanned, ActionPermBan},
	}

	for _, s := range steps {
		tier, act := Next(s.from, ModeMedium, policy.SeverityHigh, 0, cfg)
		if tier != s.wantTier {
			t.Errorf("medium %s: tier = %s, want %s", s.from, tier, s.wantTier)
		}
		if act.Kind != s.wantKind {
			t.Errorf("medium %s: action = %s, want %s", s.from, act.Kind, s.wantKind)
		}
		if !act.DeleteMessage {
			t.Errorf("medium %s: violating message not deleted", s.from)
		}
	}
}

func TestMediumModeDurations(t *testing.T) {
	cfg := Config{
		MuteDuration:    30 * time.Minute,
		TempBanSchedule: []time.Duration{time.Hour, 6 * time.Hour, 48 * time.Hour},
	}

	_, mute := Next(TierWarned, ModeMedium, policy.SeverityHigh, 0, cfg)
	if mute.Duration != 30*time.Minute {
		t.Errorf("mute duration = %v, want 30m", mute.Duration)
	}

	// Temp-ban duration escalates with prior temp-bans and saturates at
	// the end of the schedule.
	for i, want := range []time.Duration{time.Hour, 6 * time.Hour, 48 * time.Hour, 48 * time.Hour} {
		_, act := Next(TierMuted, ModeMedium, policy.SeverityHigh, i, cfg)
		if act.Duration != want {
			t.Errorf("temp-ban #%d duration = %v, want %v", i+1, act.Duration, want)
		}
	}
}

func TestCriticalJumpsToPermBanFromAnyTier(t *testing.T) {
	cfg := DefaultConfig()
	tiers := []Tier{TierNone, TierWarned, TierMuted, TierTempBanned}
	modes := []Mode{ModeLow, ModeMedium, ModeExtreme}

	for _, mode := range modes {
		for _, from := range tiers {
			tier, act := Next(from, mode, policy.SeverityCritical, 0, cfg)
			if tier != TierPermBanned {
				t.Errorf("%s/%s critical: tier = %s, want perm-banned", mode, from, tier)
			}
			if !act.DeleteMessage {
				t.Errorf("%s/%s critical: content not deleted", mode, from)
			}
			if mode == ModeLow {
				if act.Kind != ActionWarn {
					t.Errorf("low/%s critical: action = %s, want warn", from, act.Kind)
				}
			} else if act.Kind != ActionPermBan {
				t.Errorf("%s/%s critical: action = %s, want perm-ban", mode, from, act.Kind)
			}
		}
	}
}

func TestLowModeWarnsOnly(t *testing.T) {
	cfg := DefaultConfig()

	tier := TierNone
	for i := 0; i < 4; i++ {
		var act Action
		tier, act = Next(tier, ModeLow, policy.SeverityHigh, 0, cfg)
		if act.Kind != ActionWarn {
			t.Fatalf("low mode violation %d: action = %s, want warn", i+1, act.Kind)
		}
		if act.DeleteMessage {
			t.Errorf("low mode violation %d: non-critical content deleted", i+1)
		}
	}
	// Tier still advanced for reporting.
	if tier != TierPermBanned {
		t.Errorf("tier after 4 violations = %s, want perm-banned", tier)
	}
}

func TestExtremeModeBansImmediately(t *testing.T) {
	cfg := DefaultConfig()

	for _, sev := range []policy.Severity{policy.SeverityLow, policy.SeverityMedium, policy.SeverityHigh} {
		tier, act := Next(TierNone, ModeExtreme, sev, 0, cfg)
		if tier != TierPermBanned {
			t.Errorf("extreme %s: tier = %s, want perm-banned", sev, tier)
		}
		if act.Kind != ActionPermBan {
			t.Errorf("extreme %s: action = %s, want perm-ban", sev, act.Kind)
		}
	}
}

func TestSeverityNoneNeverTransitions(t *testing.T) {
	cfg := DefaultConfig()
	for _, mode := range []Mode{ModeLow, ModeMedium, ModeExtreme} {
		for from := TierNone; from <= TierPermBanned; from++ {
			tier, act := Next(from, mode, policy.SeverityNone, 0, cfg)
			if tier != from {
				t.Errorf("%s/%s none: tier changed to %s", mode, from, tier)
			}
			if act.Kind != ActionNone {
				t.Errorf("%s/%s none: action = %s", mode, from, act.Kind)
			}
		}
	}
}

func TestPermBanIsTerminal(t *testing.T) {
	cfg := DefaultConfig()
	for _, sev := range []policy.Severity{policy.SeverityLow, policy.SeverityHigh, policy.SeverityCritical} {
		tier, act := Next(TierPermBanned, ModeMedium, sev, 0, cfg)
		if tier != TierPermBanned {
			t.Errorf("perm-banned + %s: tier = %s", sev, tier)
		}
		if act.Kind != ActionNone {
			t.Errorf("perm-banned + %s: action = %s, want none", sev, act.Kind)
		}
		if !act.DeleteMessage {
			t.Errorf("perm-banned + %s: content not deleted", sev)
		}
	}
}

func TestSudoExemption(t *testing.T) {
	cfg := DefaultConfig()
	for _, sev := range []policy.Severity{policy.SeverityLow, policy.SeverityCritical} {
		act, exempt := Exemption(true, false, sev, cfg)
		if !exempt {
			t.Fatalf("sudo not exempt at %s severity", sev)
		}
		if act.Kind != ActionNone || act.DeleteMessage {
			t.Errorf("sudo %s: act = %+v, want untouched", sev, act)
		}
		if !act.Exempt {
			t.Errorf("sudo %s: action not marked exempt", sev)
		}
	}
}

func TestAdminExemption(t *testing.T) {
	cfg := DefaultConfig()

	// Non-critical admin content is never deleted.
	act, exempt := Exemption(false, true, policy.SeverityHigh, cfg)
	if !exempt || act.DeleteMessage {
		t.Errorf("admin high: exempt=%v act=%+v, want exempt with no deletion", exempt, act)
	}

	// Critical admin content is deleted when the flag allows it.
	act, _ = Exemption(false, true, policy.SeverityCritical, cfg)
	if !act.DeleteMessage {
		t.Error("admin critical with deletion allowed: content not deleted")
	}
	if act.Kind != ActionNone {
		t.Errorf("admin critical: account action = %s, want none", act.Kind)
	}

	cfg.AdminDeletionAllowed = false
	act, _ = Exemption(false, true, policy.SeverityCritical, cfg)
	if act.DeleteMessage {
		t.Error("admin critical with deletion disallowed: content deleted")
	}
}

func TestNoExemptionForRegularUser(t *testing.T) {
	if _, exempt := Exemption(false, false, policy.SeverityCritical, DefaultConfig()); exempt {
		t.Error("regular user reported exempt")
	}
}

func TestParseTier(t *testing.T) {
	for tier := TierNone; tier <= TierPermBanned; tier++ {
		if got := ParseTier(tier.String()); got != tier {
			t.Errorf("ParseTier(%q) = %v, want %v", tier.String(), got, tier)
		}
	}
	if got := ParseTier("garbage"); got != TierNone {
		t.Errorf("ParseTier(garbage) = %v, want none", got)
	}
}
