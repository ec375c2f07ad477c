package accounts

// Account is the subset of a customer account record this service reads.
type Account struct {
	UserID   string `dynamodbav:"user_id" json:"userId"`
	Email    string `dynamodbav:"email,omitempty" json:"email,omitempty"`
	Name     string `dynamodbav:"name,omitempty" json:"name,omitempty"`
	PlayerID string `dynamodbav:"onesignal_player_id,omitempty" json:"oneSignalPlayerId,omitempty"`
}
