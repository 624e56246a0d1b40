package websocket

import (
	"context"
	"log"

	"github.com/collabfabric/engine/internal/document"
	"github.com/collabfabric/engine/internal/ordering"
	"github.com/collabfabric/engine/internal/ot"
	"github.com/collabfabric/engine/internal/session"
)

// clientSender adapts a *Client to session.Sender, translating the Session
// Manager's server-push events into wire Messages on that client's
// connection.
type clientSender struct {
	client *Client
}

func (s clientSender) SendRemoteOp(op ot.Operation, newVersion uint64) {
	s.client.Send(NewMessage(MessageTypeRemoteOp, RemoteOpPayload{
		Operation:  toOperationPayload(op),
		NewVersion: newVersion,
	}))
}

func (s clientSender) SendParticipant(authorID string, joined bool) {
	s.client.Send(NewMessage(MessageTypeParticipant, ParticipantPayload{
		AuthorID: authorID,
		Joined:   joined,
	}))
}

func (s clientSender) SendResync(req ordering.ResyncRequest) {
	s.client.Send(NewMessage(MessageTypeResync, ResyncPayload{
		AuthorID:    req.AuthorID,
		ExpectedSeq: req.ExpectedSeq,
	}))
}

func toOperationPayload(op ot.Operation) OperationPayload {
	return OperationPayload{
		ID:          op.ID,
		DocumentID:  op.DocumentID,
		AuthorID:    op.AuthorID,
		ClientID:    op.ClientID,
		Kind:        op.Kind.String(),
		Position:    op.Position,
		Text:        op.Text,
		Length:      op.Length,
		Attrs:       op.Attrs,
		Seq:         op.Seq,
		BaseVersion: op.BaseVersion,
		Timestamp:   op.Timestamp,
	}
}

func fromOperationPayload(p OperationPayload) ot.Operation {
	var kind ot.Kind
	switch p.Kind {
	case "insert":
		kind = ot.KindInsert
	case "delete":
		kind = ot.KindDelete
	case "retain":
		kind = ot.KindRetain
	case "format":
		kind = ot.KindFormat
	}
	return ot.Operation{
		ID:          p.ID,
		DocumentID:  p.DocumentID,
		AuthorID:    p.AuthorID,
		ClientID:    p.ClientID,
		Kind:        kind,
		Position:    p.Position,
		Text:        p.Text,
		Length:      p.Length,
		Attrs:       p.Attrs,
		Seq:         p.Seq,
		BaseVersion: p.BaseVersion,
		Timestamp:   p.Timestamp,
	}
}

func parseRole(s string) document.Role {
	switch s {
	case "owner":
		return document.RoleOwner
	case "editor":
		return document.RoleEditor
	default:
		return document.RoleViewer
	}
}

// RegisterCollabHandlers wires the join/submit message types to the given
// Session Manager. Leave happens implicitly when the connection closes
// (see Client.Close).
func (h *Handler) RegisterCollabHandlers(manager *session.Manager) {
	h.hub.RegisterHandler(MessageTypeJoin, func(client *Client, msg *Message) error {
		var payload JoinPayload
		if err := msg.ParsePayload(&payload); err != nil {
			client.SendError("invalid_join", "failed to parse join payload")
			return err
		}

		sess, result, err := manager.Join(context.Background(), payload.DocumentID, client.UserID, parseRole(payload.Role), clientSender{client: client})
		if err != nil {
			client.SendError("join_failed", err.Error())
			return err
		}

		client.mu.Lock()
		client.collabSession = sess
		client.mu.Unlock()

		client.Send(NewReply(msg, MessageTypeJoinAck, JoinAckPayload{
			DocumentID:   payload.DocumentID,
			Content:      result.Content,
			Version:      result.Version,
			Participants: result.Participants,
		}))
		return nil
	})

	h.hub.RegisterHandler(MessageTypeSubmit, func(client *Client, msg *Message) error {
		client.mu.RLock()
		sess := client.collabSession
		client.mu.RUnlock()
		if sess == nil {
			client.SendError("not_joined", "submit before join")
			return nil
		}

		var payload OperationPayload
		if err := msg.ParsePayload(&payload); err != nil {
			client.SendError("invalid_operation", "failed to parse operation payload")
			return err
		}

		op := fromOperationPayload(payload)
		committed, err := sess.Submit(op)
		if err != nil {
			client.Send(NewReply(msg, MessageTypeSubmitReject, SubmitRejectPayload{
				OpID:   payload.ID,
				Reason: err.Error(),
			}))
			return nil
		}

		client.Send(NewReply(msg, MessageTypeSubmitAck, SubmitAckPayload{
			OpID:       committed.ID,
			NewVersion: committed.Seq,
		}))
		return nil
	})

	log.Println("registered collaborative editing message handlers")
}
