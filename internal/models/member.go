package models

// MemberRole distinguishes ordinary members from commission recipients.
type MemberRole string

const (
	RoleMember      MemberRole = "member"
	RoleDelegate    MemberRole = "delegate"
	RoleCoordinator MemberRole = "coordinator"
)

// Member is a directory entry: a payer, delegate or coordinator. The engine
// reads the directory to resolve commission recipients and payout contacts;
// membership CRUD lives elsewhere.
type Member struct {
	// ID is the unique identifier for the member (UUID format).
	ID string

	// FullName is the member's display name, used in payout references.
	FullName string

	// PhoneNumber is the mobile-money contact payouts are sent to.
	PhoneNumber string

	// Role classifies the member within the referral hierarchy.
	Role MemberRole

	// DelegateID is the member's currently assigned delegate, if any.
	DelegateID string

	// CoordinatorID is the member's currently assigned coordinator, if any.
	CoordinatorID string

	// Active reports whether the member is in good standing.
	Active bool

	// CreatedAt is the Unix timestamp when the member was registered.
	CreatedAt int64
}
