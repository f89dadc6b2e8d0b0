package models

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeStance(t *testing.T) {
	tests := []struct {
		in   string
		want Stance
	}{
		{"support", StanceSupport},
		{"支持", StanceSupport},
		{"已证实", StanceSupport},
		{"refute", StanceRefute},
		{"驳斥", StanceRefute},
		{"该说法不实", StanceRefute},
		{"不属实", StanceRefute},
		{"insufficient", StanceInsufficient},
		{"证据不足", StanceInsufficient},
		{"", StanceInsufficient},
		{"gibberish", StanceInsufficient},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeStance(tt.in))
		})
	}
}

func TestLevelAndLabelForScore(t *testing.T) {
	tests := []struct {
		score int
		level RiskLevel
		label RiskLabel
	}{
		{90, RiskLow, LabelCredible},
		{75, RiskLow, LabelCredible},
		{74, RiskMedium, LabelNeedsContext},
		{55, RiskMedium, LabelNeedsContext},
		{54, RiskHigh, LabelSuspicious},
		{35, RiskHigh, LabelSuspicious},
		{34, RiskCritical, LabelLikelyMisinfo},
		{0, RiskCritical, LabelLikelyMisinfo},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.level, LevelForScore(tt.score), "score %d", tt.score)
		assert.Equal(t, tt.label, LabelForScore(tt.score), "score %d", tt.score)
	}
}

func TestClampScore(t *testing.T) {
	assert.Equal(t, 0, ClampScore(-5))
	assert.Equal(t, 100, ClampScore(140))
	assert.Equal(t, 42, ClampScore(42))
}

func TestNormalizeClaimText(t *testing.T) {
	assert.Equal(t, "a b c", NormalizeClaimText("  a \n b\t c "))

	long := strings.Repeat("长", 300)
	got := NormalizeClaimText(long)
	assert.Equal(t, 220, len([]rune(got)))
}
