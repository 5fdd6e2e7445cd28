package ledger

// Reason tags why a balance moved. Earned reasons feed the total_earned
// counter on the wallet; trade settlement reasons do not.
type Reason string

const (
	ReasonDeposit      Reason = "deposit"
	ReasonWithdrawal   Reason = "withdrawal"
	ReasonMiningReward Reason = "mining_reward"
	ReasonWelcomeBonus Reason = "welcome_bonus"
	ReasonPromo        Reason = "promo"

	ReasonTradePayment  Reason = "trade_payment"
	ReasonTradeProceeds Reason = "trade_proceeds"
	ReasonTradeDelivery Reason = "trade_delivery"
	ReasonTradeRefund   Reason = "trade_refund"
)

var earnedReasons = map[Reason]struct{}{
	ReasonMiningReward: {},
	ReasonWelcomeBonus: {},
	ReasonPromo:        {},
}

func (r Reason) Earned() bool {
	_, ok := earnedReasons[r]
	return ok
}
