package models

// Details carries the per-kind attributes of a transaction. Exactly one
// member is set and it must match the transaction kind; plan uses Deposit.
type Details struct {
	Deposit    *DepositDetails    `json:"deposit,omitempty"`
	Withdrawal *WithdrawalDetails `json:"withdrawal,omitempty"`
	Earnings   *EarningsDetails   `json:"earnings,omitempty"`
}

type DepositDetails struct {
	PlanType string `json:"planType,omitempty"`
	PlanName string `json:"planName,omitempty"`
	ProofRef string `json:"proofRef,omitempty"`
}

type WithdrawalDetails struct {
	Address       string `json:"address,omitempty"`
	Network       string `json:"network,omitempty"`
	WithdrawalRef string `json:"withdrawalRef,omitempty"`
}

type EarningsDetails struct {
	PlanName   string `json:"planName,omitempty"`
	SourceTxID string `json:"sourceTxId,omitempty"`
	Auto       bool   `json:"auto,omitempty"`
}

// Matches reports whether d is a valid variant for kind. An empty Details
// is accepted for every kind.
func (d Details) Matches(kind TransactionKind) bool {
	set := 0
	if d.Deposit != nil {
		set++
	}
	if d.Withdrawal != nil {
		set++
	}
	if d.Earnings != nil {
		set++
	}
	if set == 0 {
		return true
	}
	if set > 1 {
		return false
	}

	switch kind {
	case KindDeposit, KindPlan:
		return d.Deposit != nil
	case KindWithdrawal:
		return d.Withdrawal != nil
	case KindEarnings:
		return d.Earnings != nil
	}
	return false
}

func (d Details) PlanType() string {
	if d.Deposit != nil {
		return d.Deposit.PlanType
	}
	return ""
}

func (d Details) PlanName() string {
	switch {
	case d.Deposit != nil:
		return d.Deposit.PlanName
	case d.Earnings != nil:
		return d.Earnings.PlanName
	}
	return ""
}
