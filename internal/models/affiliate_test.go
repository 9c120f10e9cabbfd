// Package models 推荐状态机单元测试
package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestReferral_CanAdvanceTo(t *testing.T) {
	tests := []struct {
		name string
		from string
		to   string
		want bool
	}{
		{"pending 到 signed_up", ReferralStatusPending, ReferralStatusSignedUp, true},
		{"pending 跳级到 converted", ReferralStatusPending, ReferralStatusConverted, true},
		{"trial 回退到 signed_up", ReferralStatusTrial, ReferralStatusSignedUp, false},
		{"converted 到 churned", ReferralStatusConverted, ReferralStatusChurned, true},
		{"pending 不能直接 churned", ReferralStatusPending, ReferralStatusChurned, false},
		{"trial 不能直接 churned", ReferralStatusTrial, ReferralStatusChurned, false},
		{"pending 可旁路到 expired", ReferralStatusPending, ReferralStatusExpired, true},
		{"signed_up 不能 expired", ReferralStatusSignedUp, ReferralStatusExpired, false},
		{"converted 不能 expired", ReferralStatusConverted, ReferralStatusExpired, false},
		{"expired 是终态", ReferralStatusExpired, ReferralStatusSignedUp, false},
		{"未知状态拒绝", "unknown", ReferralStatusTrial, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &Referral{Status: tt.from}
			assert.Equal(t, tt.want, r.CanAdvanceTo(tt.to))
		})
	}
}

func TestReferral_IsOpen(t *testing.T) {
	assert.True(t, (&Referral{Status: ReferralStatusPending}).IsOpen())
	assert.True(t, (&Referral{Status: ReferralStatusSignedUp}).IsOpen())
	assert.False(t, (&Referral{Status: ReferralStatusTrial}).IsOpen())
	assert.False(t, (&Referral{Status: ReferralStatusExpired}).IsOpen())
}
