package models

import (
	"strconv"
	"time"
)

// Affiliate 推广员模型
type Affiliate struct {
	ID     int64  `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID int64  `gorm:"uniqueIndex;not null" json:"user_id"`
	Code   string `gorm:"type:varchar(20);uniqueIndex;not null" json:"code"`
	Status string `gorm:"type:varchar(20);not null;default:'active'" json:"status"`

	// 业绩统计
	TotalReferrals   int     `gorm:"not null;default:0" json:"total_referrals"`
	TotalConversions int     `gorm:"not null;default:0" json:"total_conversions"`
	TotalEarnings    float64 `gorm:"type:decimal(12,2);not null;default:0" json:"total_earnings"`
	PendingEarnings  float64 `gorm:"type:decimal(12,2);not null;default:0" json:"pending_earnings"`
	PaidEarnings     float64 `gorm:"type:decimal(12,2);not null;default:0" json:"paid_earnings"`

	// 佣金比例配置
	TrialSignupCommission float64 `gorm:"type:decimal(10,2);not null;default:2.00" json:"trial_signup_commission"`
	ConversionCommission  float64 `gorm:"type:decimal(10,2);not null;default:5.00" json:"conversion_commission"`
	RecurringCommission   float64 `gorm:"type:decimal(10,2);not null;default:5.00" json:"recurring_commission"`
	RecurringEnabled      bool    `gorm:"not null;default:true" json:"recurring_enabled"`

	// 结算信息
	PaymentMethod          string  `gorm:"type:varchar(50)" json:"payment_method,omitempty"`
	PaymentEmail           string  `gorm:"type:varchar(255)" json:"payment_email,omitempty"`
	MinimumPayoutThreshold float64 `gorm:"type:decimal(10,2);not null;default:50.00" json:"minimum_payout_threshold"`

	// 协议确认
	TermsAccepted   bool       `gorm:"not null;default:false" json:"terms_accepted"`
	TermsAcceptedAt *time.Time `json:"terms_accepted_at,omitempty"`

	// 防作弊标记
	LastClickIP             string `gorm:"type:varchar(50)" json:"-"`
	SuspiciousActivityCount int    `gorm:"not null;default:0" json:"suspicious_activity_count"`
	FraudFlag               bool   `gorm:"not null;default:false" json:"fraud_flag"`

	LastPayoutAt *time.Time `json:"last_payout_at,omitempty"`
	CreatedAt    time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time  `gorm:"autoUpdateTime" json:"updated_at"`

	// 关联
	User *User `gorm:"foreignKey:UserID" json:"user,omitempty"`
}

// TableName 表名
func (Affiliate) TableName() string {
	return "affiliates"
}

// AffiliateStatus 推广员状态
const (
	AffiliateStatusActive    = "active"    // 正常
	AffiliateStatusSuspended = "suspended" // 已冻结
	AffiliateStatusInactive  = "inactive"  // 停用
)

// IsActive 是否可计佣
func (a *Affiliate) IsActive() bool {
	return a.Status == AffiliateStatusActive
}

// ConversionRate 转化率（百分比）
func (a *Affiliate) ConversionRate() float64 {
	if a.TotalReferrals == 0 {
		return 0
	}
	return float64(a.TotalConversions) / float64(a.TotalReferrals) * 100
}

// ProductLink 商品推广链接
type ProductLink struct {
	ID          int64  `gorm:"primaryKey;autoIncrement" json:"id"`
	AffiliateID int64  `gorm:"index;not null" json:"affiliate_id"`
	ProductType string `gorm:"type:varchar(50);not null" json:"product_type"`
	ProductID   string `gorm:"type:varchar(100);not null" json:"product_id"`
	ProductName string `gorm:"type:varchar(255);not null" json:"product_name"`
	ShortCode   string `gorm:"type:varchar(20);uniqueIndex;not null" json:"short_code"`

	ClickCount      int     `gorm:"not null;default:0" json:"click_count"`
	ConversionCount int     `gorm:"not null;default:0" json:"conversion_count"`
	Earnings        float64 `gorm:"type:decimal(12,2);not null;default:0" json:"earnings"`

	IsActive  bool      `gorm:"not null;default:true" json:"is_active"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`

	// 关联
	Affiliate *Affiliate `gorm:"foreignKey:AffiliateID" json:"affiliate,omitempty"`
}

// TableName 表名
func (ProductLink) TableName() string {
	return "affiliate_product_links"
}

// Referral 推荐关系记录
type Referral struct {
	ID            int64  `gorm:"primaryKey;autoIncrement" json:"id"`
	AffiliateID   int64  `gorm:"index;not null" json:"affiliate_id"`
	ProductLinkID *int64 `gorm:"index" json:"product_link_id,omitempty"`

	// 被推荐人身份：注册前只有邮箱，注册后补充用户ID
	ReferredUserID *int64 `gorm:"index" json:"referred_user_id,omitempty"`
	ReferredEmail  string `gorm:"type:varchar(255);index" json:"referred_email,omitempty"`

	// 生命周期状态只能单向推进：pending → signed_up → trial → converted → churned，
	// 长期未注册的 pending 旁路到 expired
	Status             string `gorm:"type:varchar(20);not null;default:'pending'" json:"status"`
	SubscriptionStatus string `gorm:"type:varchar(20)" json:"subscription_status,omitempty"`
	SubscriptionID     string `gorm:"type:varchar(100)" json:"subscription_id,omitempty"`

	// 续费统计
	MonthsSubscribed     int     `gorm:"not null;default:0" json:"months_subscribed"`
	LifetimeValue        float64 `gorm:"type:decimal(12,2);not null;default:0" json:"lifetime_value"`
	TotalCommissionsPaid float64 `gorm:"type:decimal(12,2);not null;default:0" json:"total_commissions_paid"`

	// 来源信息
	Source     string `gorm:"type:varchar(100)" json:"source,omitempty"`
	IPAddress  string `gorm:"type:varchar(50)" json:"-"`
	UserAgent  string `gorm:"type:text" json:"-"`
	ClickCount int    `gorm:"not null;default:1" json:"click_count"`

	// 状态流转时间戳
	FirstClickAt   time.Time  `gorm:"autoCreateTime" json:"first_click_at"`
	SignupAt       *time.Time `json:"signup_at,omitempty"`
	TrialStartedAt *time.Time `json:"trial_started_at,omitempty"`
	ConversionAt   *time.Time `json:"conversion_at,omitempty"`
	ChurnedAt      *time.Time `json:"churned_at,omitempty"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`

	// 关联
	Affiliate   *Affiliate   `gorm:"foreignKey:AffiliateID" json:"affiliate,omitempty"`
	ProductLink *ProductLink `gorm:"foreignKey:ProductLinkID" json:"product_link,omitempty"`
}

// TableName 表名
func (Referral) TableName() string {
	return "referrals"
}

// ReferralStatus 推荐状态
const (
	ReferralStatusPending   = "pending"   // 已点击未注册
	ReferralStatusSignedUp  = "signed_up" // 已注册
	ReferralStatusTrial     = "trial"     // 试用中
	ReferralStatusConverted = "converted" // 已付费
	ReferralStatusChurned   = "churned"   // 已流失
	ReferralStatusExpired   = "expired"   // 长期未注册，终态
)

// SubscriptionStatus 订阅状态（converted 之后才有意义）
const (
	SubscriptionStatusActive   = "active"
	SubscriptionStatusCanceled = "canceled"
	SubscriptionStatusPaused   = "paused"
)

// referralStatusRank 状态推进顺序
var referralStatusRank = map[string]int{
	ReferralStatusPending:   0,
	ReferralStatusSignedUp:  1,
	ReferralStatusTrial:     2,
	ReferralStatusConverted: 3,
	ReferralStatusChurned:   4,
}

// CanAdvanceTo 状态是否允许推进到目标状态
func (r *Referral) CanAdvanceTo(status string) bool {
	// expired 是 pending 的旁路终态，不参与主线推进
	if status == ReferralStatusExpired {
		return r.Status == ReferralStatusPending
	}
	if r.Status == ReferralStatusExpired {
		return false
	}
	cur, ok1 := referralStatusRank[r.Status]
	next, ok2 := referralStatusRank[status]
	if !ok1 || !ok2 {
		return false
	}
	// churned 只能从 converted 到达
	if status == ReferralStatusChurned && r.Status != ReferralStatusConverted {
		return false
	}
	return next > cur
}

// IsOpen 是否还在注册前的开放阶段
func (r *Referral) IsOpen() bool {
	return r.Status == ReferralStatusPending || r.Status == ReferralStatusSignedUp
}

// Commission 佣金记录
// (referral_id, commission_type) 上的唯一索引保证同一事件至多产生一条佣金
type Commission struct {
	ID             int64  `gorm:"primaryKey;autoIncrement" json:"id"`
	AffiliateID    int64  `gorm:"index;not null" json:"affiliate_id"`
	ReferralID     int64  `gorm:"uniqueIndex:idx_commission_referral_type;not null" json:"referral_id"`
	CommissionType string `gorm:"type:varchar(50);uniqueIndex:idx_commission_referral_type;not null" json:"commission_type"`

	Amount float64 `gorm:"type:decimal(12,2);not null" json:"amount"`
	Status string  `gorm:"type:varchar(20);not null;default:'pending'" json:"status"`

	// 续费佣金标记
	IsRecurring    bool `gorm:"not null;default:false" json:"is_recurring"`
	RecurringMonth int  `gorm:"not null;default:0" json:"recurring_month,omitempty"`

	// 外部交易关联
	SubscriptionID string `gorm:"type:varchar(100)" json:"subscription_id,omitempty"`
	TransactionID  string `gorm:"type:varchar(100)" json:"transaction_id,omitempty"`

	// 审批与结算
	ApprovedAt      *time.Time `json:"approved_at,omitempty"`
	PaidAt          *time.Time `json:"paid_at,omitempty"`
	PayoutID        *int64     `gorm:"index" json:"payout_id,omitempty"`
	RejectionReason string     `gorm:"type:text" json:"rejection_reason,omitempty"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`

	// 关联
	Affiliate *Affiliate `gorm:"foreignKey:AffiliateID" json:"affiliate,omitempty"`
	Referral  *Referral  `gorm:"foreignKey:ReferralID" json:"referral,omitempty"`
}

// TableName 表名
func (Commission) TableName() string {
	return "commissions"
}

// CommissionType 佣金类型
const (
	CommissionTypeTrialSignup = "trial_signup"
	CommissionTypeConversion  = "conversion"
	// 续费佣金类型为 recurring_month_N，见 RecurringCommissionType
)

// RecurringCommissionType 构造第 N 个月的续费佣金类型
func RecurringCommissionType(month int) string {
	return "recurring_month_" + strconv.Itoa(month)
}

// CommissionStatus 佣金状态
const (
	CommissionStatusPending  = "pending"  // 待审批
	CommissionStatusApproved = "approved" // 已批准（计入待结算）
	CommissionStatusPaid     = "paid"     // 已结算
	CommissionStatusRejected = "rejected" // 已拒绝
	CommissionStatusReversed = "reversed" // 已冲销
)

// Click 点击日志（只追加，供防作弊检测消费）
type Click struct {
	ID            int64  `gorm:"primaryKey;autoIncrement" json:"id"`
	AffiliateID   int64  `gorm:"index;not null" json:"affiliate_id"`
	ProductLinkID *int64 `gorm:"index" json:"product_link_id,omitempty"`
	ReferralID    *int64 `gorm:"index" json:"referral_id,omitempty"`

	IPAddress string `gorm:"type:varchar(50);not null" json:"ip_address"`
	UserAgent string `gorm:"type:text" json:"-"`
	Referer   string `gorm:"type:varchar(500)" json:"referer,omitempty"`

	IsSuspicious bool `gorm:"not null;default:false" json:"is_suspicious"`

	CreatedAt time.Time `gorm:"index;autoCreateTime" json:"created_at"`
}

// TableName 表名
func (Click) TableName() string {
	return "affiliate_clicks"
}

// Payout 结算批次（仅记录结算状态，实际打款由外部系统完成）
type Payout struct {
	ID          int64  `gorm:"primaryKey;autoIncrement" json:"id"`
	PayoutNo    string `gorm:"type:varchar(64);uniqueIndex;not null" json:"payout_no"`
	AffiliateID int64  `gorm:"index;not null" json:"affiliate_id"`

	Amount        float64 `gorm:"type:decimal(12,2);not null" json:"amount"`
	PaymentMethod string  `gorm:"type:varchar(50)" json:"payment_method,omitempty"`
	PaymentEmail  string  `gorm:"type:varchar(255)" json:"payment_email,omitempty"`

	Status          string `gorm:"type:varchar(20);not null;default:'pending'" json:"status"`
	CommissionCount int    `gorm:"not null;default:0" json:"commission_count"`
	FailureReason   string `gorm:"type:text" json:"failure_reason,omitempty"`

	ProcessedAt *time.Time `json:"processed_at,omitempty"`
	CreatedAt   time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time  `gorm:"autoUpdateTime" json:"updated_at"`

	// 关联
	Affiliate *Affiliate `gorm:"foreignKey:AffiliateID" json:"affiliate,omitempty"`
}

// TableName 表名
func (Payout) TableName() string {
	return "payouts"
}

// PayoutStatus 结算批次状态
const (
	PayoutStatusPending    = "pending"
	PayoutStatusProcessing = "processing"
	PayoutStatusCompleted  = "completed"
	PayoutStatusFailed     = "failed"
	PayoutStatusCanceled   = "canceled"
)
