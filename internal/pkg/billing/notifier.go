package billing

import (
	"fmt"

	"github.com/FormLoom/FormLoom/app/models"
	"github.com/FormLoom/FormLoom/internal/pkg/mail"
)

// MailNotifier delivers lock notices over SMTP.
type MailNotifier struct{}

func NewMailNotifier() *MailNotifier {
	return &MailNotifier{}
}

func (n *MailNotifier) FormsLocked(user *models.User, plan string, lockedCount int) error {
	subject := "Some of your forms were locked"
	body := fmt.Sprintf(
		"Hi %s,\n\n"+
			"Your account moved to the %s plan, which allows fewer active forms than you currently have. "+
			"%d of your oldest forms were locked and will no longer accept submissions.\n\n"+
			"Locked forms keep all their data. You can choose which forms stay active from your account's billing page.\n",
		user.Name, plan, lockedCount,
	)
	return mail.SendMail(user.Email, subject, body)
}
