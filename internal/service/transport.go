package service

import (
	"securetext/internal/models"
)

// transportRoute keys the selection table by everything that influences the
// choice except the force flag, which is applied up front.
type transportRoute struct {
	Kind  models.MessageKind
	Group bool
	Push  bool
}

// transportTable maps each message shape to exactly one task kind. Group
// text over push still rides the individual push text path; the push layer
// fans out per recipient.
var transportTable = map[transportRoute]models.TaskKind{
	{models.KindText, false, true}:   models.TaskSendPushText,
	{models.KindText, true, true}:    models.TaskSendPushText,
	{models.KindText, false, false}:  models.TaskSendSMS,
	{models.KindText, true, false}:   models.TaskSendSMS,
	{models.KindMedia, false, true}:  models.TaskSendPushMedia,
	{models.KindMedia, true, true}:   models.TaskSendPushGroup,
	{models.KindMedia, false, false}: models.TaskSendMMS,
	{models.KindMedia, true, false}:  models.TaskSendMMS,
}

// SelectTaskKind picks the delivery task kind for a message. Forcing SMS
// always wins over push availability.
func SelectTaskKind(kind models.MessageKind, group, pushAvailable, forceSMS bool) models.TaskKind {
	if forceSMS {
		pushAvailable = false
	}
	return transportTable[transportRoute{Kind: kind, Group: group, Push: pushAvailable}]
}
