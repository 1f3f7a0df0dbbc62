package cards

import (
	"time"
)

// Status is the lifecycle state of a virtual card.
type Status string

const (
	StatusActive    Status = "active"
	StatusFrozen    Status = "frozen"
	StatusBlocked   Status = "blocked"
	StatusExpired   Status = "expired"
	StatusCancelled Status = "cancelled"
)

// Valid reports whether s is a known card status.
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusFrozen, StatusBlocked, StatusExpired, StatusCancelled:
		return true
	default:
		return false
	}
}

// CanTransitionTo reports whether the move from s to next is a legal
// lifecycle transition. Cancelled is terminal; blocked and expired cards can
// only be cancelled.
func (s Status) CanTransitionTo(next Status) bool {
	if !next.Valid() || s == next {
		return false
	}
	switch s {
	case StatusActive:
		return next == StatusFrozen || next == StatusBlocked || next == StatusExpired || next == StatusCancelled
	case StatusFrozen:
		return next == StatusActive || next == StatusBlocked || next == StatusExpired || next == StatusCancelled
	case StatusBlocked, StatusExpired:
		return next == StatusCancelled
	default:
		return false
	}
}

// MerchantCategory classifies the merchant side of a card transaction.
type MerchantCategory string

const (
	CategoryGroceries      MerchantCategory = "groceries"
	CategoryFuel           MerchantCategory = "fuel"
	CategoryRestaurants    MerchantCategory = "restaurants"
	CategoryOnlineShopping MerchantCategory = "online_shopping"
	CategoryATMWithdrawal  MerchantCategory = "atm_withdrawal"
	CategoryTravel         MerchantCategory = "travel"
	CategoryEntertainment  MerchantCategory = "entertainment"
	CategoryHealthcare     MerchantCategory = "healthcare"
	CategoryEducation      MerchantCategory = "education"
	CategoryUtilities      MerchantCategory = "utilities"
	CategoryOther          MerchantCategory = "other"
)

// Valid reports whether m is a known merchant category.
func (m MerchantCategory) Valid() bool {
	switch m {
	case CategoryGroceries, CategoryFuel, CategoryRestaurants, CategoryOnlineShopping,
		CategoryATMWithdrawal, CategoryTravel, CategoryEntertainment, CategoryHealthcare,
		CategoryEducation, CategoryUtilities, CategoryOther:
		return true
	default:
		return false
	}
}

// Controls are the per-card spending rules. Limits are INR minor units
// (paise). An empty allowed set means every category is allowed.
type Controls struct {
	DailyLimit           int64              `json:"daily_limit_paise"`
	MonthlyLimit         int64              `json:"monthly_limit_paise"`
	PerTransactionLimit  int64              `json:"per_transaction_limit_paise"`
	AllowedCategories    []MerchantCategory `json:"allowed_categories,omitempty"`
	BlockedCategories    []MerchantCategory `json:"blocked_categories,omitempty"`
	OnlineEnabled        bool               `json:"online_enabled"`
	InternationalEnabled bool               `json:"international_enabled"`
}

// DefaultControls returns the issue-time control set: ₹50,000 daily,
// ₹2,00,000 monthly, ₹25,000 per transaction, online on, international off.
func DefaultControls() Controls {
	return Controls{
		DailyLimit:          5_000_000,
		MonthlyLimit:        20_000_000,
		PerTransactionLimit: 2_500_000,
		OnlineEnabled:       true,
	}
}

// Validate checks limits are positive and category sets are well-formed.
func (c Controls) Validate() error {
	if c.DailyLimit <= 0 || c.MonthlyLimit <= 0 || c.PerTransactionLimit <= 0 {
		return ErrInvalidControls
	}
	for _, cat := range c.AllowedCategories {
		if !cat.Valid() {
			return ErrInvalidControls
		}
	}
	for _, cat := range c.BlockedCategories {
		if !cat.Valid() {
			return ErrInvalidControls
		}
	}
	return nil
}

// categoryBlocked reports whether the category is in the blocked set.
func (c Controls) categoryBlocked(category MerchantCategory) bool {
	for _, blocked := range c.BlockedCategories {
		if category == blocked {
			return true
		}
	}
	return false
}

// categoryAllowed reports whether the allowed set permits the category. An
// empty allowed set permits everything.
func (c Controls) categoryAllowed(category MerchantCategory) bool {
	if len(c.AllowedCategories) == 0 {
		return true
	}
	for _, allowed := range c.AllowedCategories {
		if category == allowed {
			return true
		}
	}
	return false
}

// Card is a prepaid virtual card. Only the SHA-256 hashes of the PAN and CVV
// are stored; the balance is INR minor units (paise).
type Card struct {
	ID             string    `json:"id"`
	UserID         string    `json:"user_id"`
	Address        string    `json:"address"`
	MaskedPAN      string    `json:"masked_pan"`
	PANHash        string    `json:"-"`
	CVVHash        string    `json:"-"`
	ExpiryMonth    int       `json:"expiry_month"`
	ExpiryYear     int       `json:"expiry_year"`
	CardholderName string    `json:"cardholder_name"`
	Status         Status    `json:"status"`
	Balance        int64     `json:"balance_paise"`
	Controls       Controls  `json:"controls"`
	Timezone       string    `json:"timezone"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
	LastUsedAt     time.Time `json:"last_used_at,omitempty"`
}

// Location resolves the card's processing timezone, falling back to UTC when
// the stored name does not load.
func (c *Card) Location() *time.Location {
	if c.Timezone != "" {
		if loc, err := time.LoadLocation(c.Timezone); err == nil {
			return loc
		}
	}
	return time.UTC
}

// ExpiredAt reports whether the card is past its expiry month. Cards stay
// valid through the last day of the expiry month in their own timezone.
func (c *Card) ExpiredAt(now time.Time) bool {
	local := now.In(c.Location())
	if local.Year() != c.ExpiryYear {
		return local.Year() > c.ExpiryYear
	}
	return int(local.Month()) > c.ExpiryMonth
}

// TxStatus is the outcome recorded for an authorization attempt.
type TxStatus string

const (
	TxApproved TxStatus = "approved"
	TxDeclined TxStatus = "declined"
	TxReversed TxStatus = "reversed"
)

// Transaction is one authorization decision, approved or declined. Every
// decision is recorded, so the log doubles as the spend ledger (approved
// rows) and the decline audit trail.
type Transaction struct {
	ID                string           `json:"id"`
	CardID            string           `json:"card_id"`
	UserID            string           `json:"user_id"`
	Amount            int64            `json:"amount_paise"`
	MerchantName      string           `json:"merchant_name"`
	MerchantCategory  MerchantCategory `json:"merchant_category"`
	Description       string           `json:"description,omitempty"`
	Location          string           `json:"location,omitempty"`
	Status            TxStatus         `json:"status"`
	DeclineReason     string           `json:"decline_reason,omitempty"`
	ResponseCode      string           `json:"response_code"`
	AuthorizationCode string           `json:"authorization_code,omitempty"`
	ReferenceNumber   string           `json:"reference_number"`
	FraudScore        int              `json:"fraud_score"`
	CreatedAt         time.Time        `json:"created_at"`
}

// Decline reasons, canonical strings surfaced to the card network.
const (
	DeclineCardNotFound          = "CARD_NOT_FOUND"
	DeclineCardFrozen            = "CARD_FROZEN"
	DeclineCardBlocked           = "CARD_BLOCKED"
	DeclineCardCancelled         = "CARD_CANCELLED"
	DeclineCardExpired           = "CARD_EXPIRED"
	DeclineDailyLimit            = "DAILY_LIMIT_EXCEEDED"
	DeclineMonthlyLimit          = "MONTHLY_LIMIT_EXCEEDED"
	DeclineTransactionLimit      = "TRANSACTION_LIMIT_EXCEEDED"
	DeclineCategoryBlocked       = "MERCHANT_CATEGORY_BLOCKED"
	DeclineCategoryNotAllowed    = "MERCHANT_CATEGORY_NOT_ALLOWED"
	DeclineOnlineDisabled        = "ONLINE_TRANSACTIONS_DISABLED"
	DeclineInternationalDisabled = "INTERNATIONAL_TRANSACTIONS_DISABLED"
	DeclineInsufficientFunds     = "INSUFFICIENT_FUNDS"
	DeclineSuspectedFraud        = "SUSPECTED_FRAUD"
	DeclineSystemError           = "SYSTEM_ERROR"
)

// Response codes, two-character strings mirroring card-network conventions.
const (
	CodeApproved          = "00"
	CodeCardNotFound      = "05"
	CodeInsufficientFunds = "51"
	CodeCardState         = "54"
	CodeCategoryBlocked   = "57"
	CodeSuspectedFraud    = "59"
	CodeLimitExceeded     = "61"
	CodeSystemError       = "96"
)

// statusDecline maps a non-active card status to its decline reason.
func statusDecline(s Status) string {
	switch s {
	case StatusFrozen:
		return DeclineCardFrozen
	case StatusBlocked:
		return DeclineCardBlocked
	case StatusCancelled:
		return DeclineCardCancelled
	case StatusExpired:
		return DeclineCardExpired
	default:
		return DeclineCardNotFound
	}
}
