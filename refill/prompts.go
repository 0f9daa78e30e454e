package refill

import (
	"fmt"
	"strings"

	"github.com/c360studio/rxpilot/erx"
)

// replyFacts carries turn data the reply needs that does not live on the
// conversation context: presented options, rejection detail, the search
// text that matched nothing.
type replyFacts struct {
	// cancelled is true when the turn abandoned the request back to START.
	cancelled bool

	// stillAmbiguous is true when a clarification answer did not narrow
	// the candidate list.
	stillAmbiguous bool

	// askDosage is true when the patient rejected the dosage on file
	// without giving another one.
	askDosage bool

	// dosageMismatch holds the patient-stated dosage when it does not
	// match the prescription.
	dosageMismatch string

	// notFoundQuery is the search text when no medication matched.
	notFoundQuery string

	// noPharmacies is true when the directory returned zero pharmacies.
	noPharmacies bool

	// offers are the pharmacies presented for selection, with quotes.
	offers []pharmacyOffer

	// reprompt is the transition rejection when the turn did not advance.
	reprompt *TransitionError

	// systemError is true when a capability failed and the turn landed
	// in ERROR.
	systemError bool
}

// pharmacyOffer is one pharmacy presented to the patient with its quote.
type pharmacyOffer struct {
	pharmacy   erx.Pharmacy
	priceCents int
}

// fallbackReply builds the deterministic reply for the conversation's
// state. It is the text used when no reply model is configured or the
// model call fails, and it doubles as the factual draft the model
// rephrases, so it must carry every name, number, and option the patient
// needs.
func fallbackReply(conv *ConversationContext, facts replyFacts) string {
	switch conv.CurrentState {
	case StateStart:
		if facts.cancelled {
			return "No problem, I've cancelled that request. If you need another refill, just tell me the medication name."
		}
		return "I can help refill your prescriptions. Which medication do you need?"

	case StateIdentifyMedication:
		return "Which medication would you like to refill? The exact name on the label works best."

	case StateClarifyMedication:
		med := conv.Medication
		if med == nil || len(med.Candidates) == 0 {
			return "Which medication would you like to refill? The exact name on the label works best."
		}
		var b strings.Builder
		if facts.stillAmbiguous {
			b.WriteString("I still couldn't tell which one you meant. ")
		}
		b.WriteString("I found more than one match on your profile:\n")
		b.WriteString(formatCandidates(med.Candidates))
		b.WriteString("\nWhich one would you like to refill?")
		return b.String()

	case StateConfirmDosage:
		med := conv.Medication
		if med == nil || med.Name == "" {
			return "Which medication would you like to refill?"
		}
		if facts.dosageMismatch != "" {
			return fmt.Sprintf(
				"Your prescription for %s on file is %s, not %s. Should I refill it at %s?",
				med.Name, med.Dosage, facts.dosageMismatch, med.Dosage)
		}
		if facts.askDosage {
			return fmt.Sprintf("What dosage does your %s prescription show? It's printed on the label.", med.Name)
		}
		if med.Dosage != "" {
			return fmt.Sprintf("I found %s %s on your profile. Refill at that dosage?", med.Name, med.Dosage)
		}
		return fmt.Sprintf("I found %s on your profile. What dosage does the label show?", med.Name)

	case StateCheckAuthorization:
		return "One moment while I check your coverage."

	case StateSelectPharmacy:
		if facts.noPharmacies {
			return "I couldn't find any pharmacies for your account right now. Please call the pharmacy help desk and they'll finish the refill with you."
		}
		var b strings.Builder
		if ins := conv.Insurance; ins != nil && ins.Covered {
			b.WriteString("Good news - your plan covers ")
			b.WriteString(medicationName(conv))
			if ins.CopayCents > 0 {
				fmt.Fprintf(&b, " with a %s copay", formatCents(ins.CopayCents))
			}
			b.WriteString(". ")
		}
		b.WriteString("Where would you like to pick it up?")
		if len(facts.offers) > 0 {
			b.WriteString("\n")
			b.WriteString(formatOffers(facts.offers))
		}
		return b.String()

	case StateConfirmOrder:
		med, ph := conv.Medication, conv.Pharmacy
		if med == nil || ph == nil {
			return "Shall I place the order? Reply yes to confirm or no to cancel."
		}
		var b strings.Builder
		b.WriteString("Here's your order: ")
		b.WriteString(med.Name)
		if conv.Dosage != "" {
			b.WriteString(" ")
			b.WriteString(conv.Dosage)
		}
		b.WriteString(" at ")
		b.WriteString(ph.Name)
		if ph.PriceCents > 0 {
			fmt.Fprintf(&b, ", estimated %s", formatCents(ph.PriceCents))
		}
		b.WriteString(". Shall I place it?")
		return b.String()

	case StateComplete:
		if ord := conv.Order; ord != nil {
			var b strings.Builder
			fmt.Fprintf(&b, "Done! Order %s for %s", ord.OrderID, ord.Medication)
			if ord.Dosage != "" {
				b.WriteString(" ")
				b.WriteString(ord.Dosage)
			}
			if ph := conv.Pharmacy; ph != nil {
				b.WriteString(" is in at ")
				b.WriteString(ph.Name)
			} else {
				b.WriteString(" is in")
			}
			if !ord.EstimatedReady.IsZero() {
				fmt.Fprintf(&b, " and should be ready around %s", ord.EstimatedReady.Format("3:04 PM on Monday, January 2"))
			}
			b.WriteString(".")
			return b.String()
		}
		return "Glad that's taken care of. This request is complete - tell me a medication name any time to start another refill."

	case StateEscalatePA, StateEscalateDoctor, StateEscalatePharmacist:
		esc := conv.Escalation
		if esc == nil {
			return "This request needs a manual review before we can continue. Reply yes once it's resolved, or no to drop it."
		}
		var b strings.Builder
		b.WriteString(esc.Message)
		for i, step := range esc.NextSteps {
			fmt.Fprintf(&b, "\n%d. %s", i+1, step)
		}
		if esc.ContactInfo != "" {
			b.WriteString("\nContact: ")
			b.WriteString(esc.ContactInfo)
		}
		b.WriteString("\nReply yes once this is taken care of, or no to drop the request.")
		return b.String()

	case StateError:
		return "I'm sorry, something went wrong on our end and I couldn't finish that. Say 'retry' to try the refill again, or 'start over' to begin fresh."
	}

	return "I'm not sure how to help with that here. Could you rephrase?"
}

// replySystemPrompt frames the rephrase request sent to the conversation
// model. The deterministic draft carries the facts; the model only
// restyles it, so a bad generation can never invent medication data the
// fallback would not have shown.
const replySystemPrompt = `You are a pharmacy refill assistant chatting with a patient.
Rewrite the draft reply below in a warm, natural voice.
Keep every medication name, dosage, price, order id, phone number, time, and numbered option exactly as written.
Do not add medical advice or any fact that is not in the draft.
Keep it short, and keep the question at the end if the draft asks one.

Draft reply:
`

// replyInstructions builds the system prompt around the deterministic
// draft.
func replyInstructions(draft string) string {
	return replySystemPrompt + draft
}

// promptHistoryTurns caps how many prior patient utterances ride along
// in the rephrase prompt.
const promptHistoryTurns = 4

// recentUtterances returns the last n non-empty patient utterances,
// oldest first.
func recentUtterances(conv *ConversationContext, n int) []string {
	var texts []string
	for _, rec := range conv.History {
		if rec.UserText != "" {
			texts = append(texts, rec.UserText)
		}
	}
	if len(texts) > n {
		texts = texts[len(texts)-n:]
	}
	return texts
}

// formatCandidates renders an ambiguous medication list as numbered
// options, matching the order MatchOption resolves against.
func formatCandidates(candidates []MedicationCandidate) string {
	var b strings.Builder
	for i, c := range candidates {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%d. %s", i+1, c.Name)
		if c.Dosage != "" {
			fmt.Fprintf(&b, " (%s)", c.Dosage)
		}
	}
	return b.String()
}

// formatOffers renders the pharmacy options as a numbered list with
// quotes.
func formatOffers(offers []pharmacyOffer) string {
	var b strings.Builder
	for i, o := range offers {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%d. %s", i+1, o.pharmacy.Name)
		if o.pharmacy.Address != "" {
			b.WriteString(", ")
			b.WriteString(o.pharmacy.Address)
		}
		if o.priceCents > 0 {
			b.WriteString(" - ")
			b.WriteString(formatCents(o.priceCents))
		}
	}
	return b.String()
}

// formatCents renders a cent amount as dollars.
func formatCents(cents int) string {
	return fmt.Sprintf("$%d.%02d", cents/100, cents%100)
}

// medicationName names the medication under discussion for reply text.
func medicationName(conv *ConversationContext) string {
	if conv.Medication != nil && conv.Medication.Name != "" {
		return conv.Medication.Name
	}
	return "your medication"
}
