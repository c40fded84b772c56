// internal/notification/domain.go
package notification

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Kind classifies a notification.
type Kind int

const (
	KindQueued Kind = iota + 1
	KindAvailable
	KindDueSoon
)

var kindNames = map[Kind]string{
	KindQueued:    "QUEUED",
	KindAvailable: "AVAILABLE",
	KindDueSoon:   "DUE_SOON",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("KIND(%d)", int(k))
}

// ParseKind is the inverse of Kind.String.
func ParseKind(s string) (Kind, error) {
	for k, name := range kindNames {
		if name == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown notification kind %q", s)
}

func (k Kind) MarshalJSON() ([]byte, error) {
	return json.Marshal(k.String())
}

func (k *Kind) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseKind(s)
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// Notification is an immutable message addressed to one user about one title.
type Notification struct {
	ID        uuid.UUID `json:"id"`
	Kind      Kind      `json:"kind"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
	BookTitle string    `json:"book_title"`
	Recipient string    `json:"recipient"`
}

// Queued tells user their place in line for title.
func Queued(user, title string, position int, at time.Time) Notification {
	return newNotification(KindQueued, user, title, at,
		fmt.Sprintf("You are number %d in line for '%s'", position, title))
}

// Available tells user that a copy of title has come back.
func Available(user, title string, at time.Time) Notification {
	return newNotification(KindAvailable, user, title, at,
		fmt.Sprintf("The book '%s' is now available for you to borrow", title))
}

// DueSoon reminds user that their loan of title ends in days days.
func DueSoon(user, title string, days int, at time.Time) Notification {
	return newNotification(KindDueSoon, user, title, at,
		fmt.Sprintf("The book '%s' is due in %d days", title, days))
}

func newNotification(kind Kind, user, title string, at time.Time, message string) Notification {
	return Notification{
		ID:        uuid.New(),
		Kind:      kind,
		Message:   message,
		Timestamp: at.UTC(),
		BookTitle: title,
		Recipient: user,
	}
}

// Observer receives notifications for a subscribed user. Update runs while
// the publisher holds the recipient's mailbox lock, so implementations may
// only record what they receive.
type Observer interface {
	Update(n Notification)
}
