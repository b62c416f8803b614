package hub

import (
	"encoding/json"
	"fmt"
	"math/rand"

	"github.com/shopspring/decimal"

	"github.com/roleplayhub/hub/store"
)

func init() {
	// Redpacket amounts ride the wire as JSON numbers, not strings.
	decimal.MarshalJSONWithoutQuotes = true
}

var centUnit = decimal.New(1, -2) // 0.01

// RedpacketState is the structured content of a redpacket group message.
// The version field makes concurrent writers detectable; the claim
// protocol bumps it on every successful claim.
type RedpacketState struct {
	TotalAmount    decimal.Decimal            `json:"totalAmount"`
	Count          int                        `json:"count"`
	RedpacketType  string                     `json:"redpacketType"`
	Claimed        []string                   `json:"claimed"`
	ClaimedAmounts map[string]decimal.Decimal `json:"claimedAmounts"`
	Version        int                        `json:"version"`
}

// redpacketStore is the slice of the gateway the claim protocol needs.
type redpacketStore interface {
	GroupMessageByID(id string) (*store.GroupMessage, error)
	SwapGroupMessageContent(id, prev, next string) (bool, error)
}

// claimRedpacket runs one claim attempt for account against messageID,
// which must live in groupID; membership in some other group buys
// nothing here. Callers serialize claims per message; the content CAS
// inside is the backstop against writers that slipped past that
// serialization.
func claimRedpacket(st redpacketStore, groupID, messageID, account string, draw func() float64) (decimal.Decimal, *RedpacketState, error) {
	for attempt := 0; attempt < 3; attempt++ {
		message, err := st.GroupMessageByID(messageID)
		if err == store.ErrNotFound {
			return decimal.Zero, nil, Errf(KindNotFound, "redpacket not found")
		}
		if err != nil {
			return decimal.Zero, nil, err
		}
		if message.GroupID != groupID {
			return decimal.Zero, nil, Errf(KindNotFound, "redpacket not found in this group")
		}
		if message.MsgType != "redpacket" {
			return decimal.Zero, nil, Errf(KindNotFound, "message is not a redpacket")
		}

		var state RedpacketState
		if err = json.Unmarshal([]byte(message.Content), &state); err != nil {
			return decimal.Zero, nil, Errf(KindInconsistent, "redpacket state is corrupt")
		}
		if state.ClaimedAmounts == nil {
			state.ClaimedAmounts = make(map[string]decimal.Decimal)
		}

		for _, claimant := range state.Claimed {
			if sameAccount(claimant, account) {
				return decimal.Zero, nil, Errf(KindAlreadyClaimed, "you already claimed this redpacket")
			}
		}

		remainingCount := state.Count - len(state.Claimed)
		if remainingCount <= 0 {
			return decimal.Zero, nil, Errf(KindExhausted, "redpacket is exhausted")
		}

		alreadyAmount := decimal.Zero
		for _, amount := range state.ClaimedAmounts {
			alreadyAmount = alreadyAmount.Add(amount)
		}
		remainingAmount := state.TotalAmount.Sub(alreadyAmount)

		claimAmount := computeClaimAmount(state.RedpacketType, remainingAmount, remainingCount, draw)
		if !claimAmount.IsPositive() || claimAmount.GreaterThan(remainingAmount) {
			return decimal.Zero, nil, Errf(KindInconsistent, "redpacket amounts are inconsistent")
		}

		state.Claimed = append(state.Claimed, account)
		state.ClaimedAmounts[account] = claimAmount
		state.Version++

		next, err := json.Marshal(&state)
		if err != nil {
			return decimal.Zero, nil, err
		}

		swapped, err := st.SwapGroupMessageContent(messageID, message.Content, string(next))
		if err != nil {
			return decimal.Zero, nil, err
		}
		if swapped {
			return claimAmount, &state, nil
		}
		// A concurrent writer changed the row; reload and retry.
	}

	return decimal.Zero, nil, Errf(KindInconsistent, "redpacket is contended, try again")
}

// computeClaimAmount implements the distribution rules. Average splits
// the remainder evenly; lucky draws uniformly, damped by 0.8, leaving at
// least one cent for every remaining claimant. The last claimant always
// takes the exact remainder, which is what closes conservation.
func computeClaimAmount(rpType string, remaining decimal.Decimal, remainingCount int, draw func() float64) decimal.Decimal {
	if remainingCount == 1 {
		return remaining
	}

	if rpType == "average" {
		return remaining.Div(decimal.NewFromInt(int64(remainingCount))).Round(2)
	}

	maxDraw := remaining.Sub(centUnit.Mul(decimal.NewFromInt(int64(remainingCount - 1))))
	if maxDraw.LessThanOrEqual(centUnit) {
		return centUnit
	}

	span, _ := maxDraw.Sub(centUnit).Float64()
	drawn := decimal.NewFromFloat(0.01 + draw()*span)
	amount := drawn.Mul(decimal.NewFromFloat(0.8)).Round(2)

	if amount.LessThan(centUnit) {
		amount = centUnit
	}
	if amount.GreaterThan(maxDraw) {
		amount = maxDraw.Round(2)
	}
	return amount
}

func (m *Manager) handleClaimRedpacket(s *Session, f *Frame) error {
	if _, err := m.requireUser(s); err != nil {
		return err
	}

	var req ClaimRedpacketFrame
	if err := f.Bind(&req); err != nil || req.GroupID == "" || req.MessageID == "" {
		return Errf(KindInvalid, "malformed claim_group_redpacket frame")
	}

	members, err := m.memberGate(req.GroupID, req.Account, s)
	if err != nil {
		return err
	}

	// Claims for one redpacket are strictly serialized in process.
	lock := m.claimLocks.get(req.MessageID)
	lock.Lock()
	amount, state, err := claimRedpacket(m.store, req.GroupID, req.MessageID, req.Account, rand.Float64)
	lock.Unlock()
	m.claimLocks.put(req.MessageID)
	if err != nil {
		return err
	}

	claimantName := req.Account
	for i := range members {
		if sameAccount(members[i].UserAccount, req.Account) && members[i].CharacterName != "" {
			claimantName = members[i].CharacterName
			break
		}
	}

	announcement := &store.GroupMessage{
		GroupID:       req.GroupID,
		SenderType:    store.SenderSystem,
		SenderAccount: req.Account,
		SenderName:    "system",
		Content:       fmt.Sprintf("%s claimed ¥%s", claimantName, amount.StringFixed(2)),
		MsgType:       "system",
	}
	if err = m.store.SaveGroupMessage(announcement); err != nil {
		return err
	}

	m.publish("redpacket_claimed", map[string]interface{}{
		"group_id":   req.GroupID,
		"message_id": req.MessageID,
		"wx_account": req.Account,
		"amount":     amount.StringFixed(2),
	})

	payload := m.decorateMessage(announcement, members)
	m.broadcastToGroup(members, "", GroupMessagePush{Type: "group_message", Message: &payload})
	m.broadcastToGroup(members, "", RedpacketClaimedFrame{
		Type:      "redpacket_claimed",
		GroupID:   req.GroupID,
		MessageID: req.MessageID,
		Account:   req.Account,
		Amount:    amount.StringFixed(2),
		Redpacket: state,
	})
	return nil
}
