package billing

import "fmt"

// DuplicateOutcome is what the caller shows when a payment cannot be linked
// because its billing customer conflicts with an existing binding.
type DuplicateOutcome struct {
	Success         bool   `json:"success"`
	Message         string `json:"message"`
	Error           string `json:"error"`
	RequiresSupport bool   `json:"requiresSupport"`
}

// HandleDuplicateEmail decides the response for a conflicting binding. It
// never merges billing identities and has no side effects.
func HandleDuplicateEmail(email, newUserID, sessionID string) DuplicateOutcome {
	return DuplicateOutcome{
		Success: false,
		Message: fmt.Sprintf(
			"The payment made with %s is associated with a different billing account. "+
				"Please contact support and mention checkout session %s so we can link it to your account.",
			email, sessionID,
		),
		Error:           fmt.Sprintf("duplicate billing account for user %s", newUserID),
		RequiresSupport: true,
	}
}
