package whatsapp

import (
	"encoding/json"
	"strings"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/types/events"

	"wa-relay/internal/session"
)

// accountRecord is the credential record written once a device pairs.
const accountRecord = "account.json"

type account struct {
	JID          string `json:"jid"`
	LID          string `json:"lid,omitempty"`
	BusinessName string `json:"business_name,omitempty"`
	Platform     string `json:"platform,omitempty"`
}

// translate maps a whatsmeow event onto the session event stream. Events
// the lifecycle does not care about report false.
func translate(evt any) (session.Event, bool) {
	switch e := evt.(type) {
	case *events.Connected:
		return session.Opened(), true

	case *events.PairSuccess:
		jid := e.ID.ToNonAD().String()
		data, err := json.Marshal(account{
			JID:          jid,
			LID:          e.LID.ToNonAD().String(),
			BusinessName: e.BusinessName,
			Platform:     e.Platform,
		})
		if err != nil {
			return session.CredentialsUpdated(session.Credentials{Account: jid}), true
		}
		return session.CredentialsUpdated(session.Credentials{
			Account: jid,
			Name:    accountRecord,
			Data:    data,
		}), true

	case *events.LoggedOut:
		msg := "logged out"
		if e.OnConnect {
			msg = e.Reason.String()
		}
		return session.Closed(session.CloseReason{
			Code:      session.CodeLoggedOut,
			Message:   msg,
			LoggedOut: true,
		}), true

	case *events.StreamReplaced:
		return session.Closed(session.CloseReason{
			Code:    session.CodeConnectionReplaced,
			Message: "connection replaced by another client",
		}), true

	case *events.TemporaryBan:
		return session.Closed(session.CloseReason{
			Code:    session.CodeBanned,
			Message: e.String(),
		}), true

	case *events.ConnectFailure:
		msg := e.Reason.String()
		if e.Message != "" {
			msg += " (" + e.Message + ")"
		}
		return session.Closed(session.CloseReason{
			Code:      session.CodeConnectFailure,
			Message:   msg,
			LoggedOut: e.Reason.IsLoggedOut(),
		}), true

	case *events.ClientOutdated:
		return session.Closed(session.CloseReason{
			Code:    session.CodeConnectFailure,
			Message: "client version outdated",
		}), true

	case *events.Disconnected:
		return session.Closed(session.CloseReason{
			Code:    session.CodeConnectionClosed,
			Message: "connection closed",
		}), true
	}

	return session.Event{}, false
}

// translateQR maps an item of the pairing channel. Success is reported
// separately through PairSuccess and Connected.
func translateQR(item whatsmeow.QRChannelItem) (session.Event, bool) {
	switch {
	case item.Event == whatsmeow.QRChannelEventCode:
		return session.QRIssued(item.Code), true

	case item.Event == whatsmeow.QRChannelTimeout.Event:
		return session.Closed(session.CloseReason{
			Code:    session.CodeQRTimeout,
			Message: "qr code expired",
		}), true

	case item.Event == whatsmeow.QRChannelEventError:
		msg := "pairing failed"
		if item.Error != nil {
			msg += ": " + item.Error.Error()
		}
		return session.Closed(session.CloseReason{
			Code:    session.CodeInternal,
			Message: msg,
		}), true

	case strings.HasPrefix(item.Event, "err-"):
		return session.Closed(session.CloseReason{
			Code:    session.CodeInternal,
			Message: "pairing failed: " + strings.TrimPrefix(item.Event, "err-"),
		}), true
	}

	return session.Event{}, false
}
