package models

// All lists every persisted model in dependency order.
func All() []any {
	return []any{
		&Contact{},
		&Pledge{},
		&ExchangeRate{},
		&ManualDonation{},
		&PaymentPlan{},
		&InstallmentSchedule{},
		&PledgeTag{},
		&Payment{},
		&PaymentAllocation{},
		&BonusCalculation{},
		&OutboxEvent{},
		&OutboxDLQ{},
	}
}
