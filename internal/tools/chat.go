package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/adminpilot/control-plane/internal/store"
	"github.com/adminpilot/control-plane/pkg/models"
)

var conversationStatuses = []string{"open", "pending", "closed"}

type listConversationsArgs struct {
	Status string `json:"status" validate:"omitempty,oneof=open pending closed"`
	Limit  int    `json:"limit" validate:"min=0,max=100"`
}

type conversationIDArgs struct {
	ConversationID string `json:"conversation_id" validate:"required,max=64"`
}

type conversationMessagesArgs struct {
	ConversationID string `json:"conversation_id" validate:"required,max=64"`
	Limit          int    `json:"limit" validate:"min=0,max=100"`
}

type sendChatMessageArgs struct {
	ConversationID string `json:"conversation_id" validate:"required,max=64"`
	Content        string `json:"content" validate:"required,max=4000"`
}

type sendWhatsAppArgs struct {
	PhoneNumber    string `json:"phone_number" validate:"required,e164"`
	Message        string `json:"message" validate:"required,max=4096"`
	ConversationID string `json:"conversation_id" validate:"omitempty,max=64"`
}

func conversationTarget(id string) models.Target {
	return models.Target{Table: store.TableConversations, ID: id}
}

func chatTools() []Tool {
	idSchema := String("Conversation id")

	return []Tool{
		&typedTool[listConversationsArgs]{
			decl: Declaration{
				Name:        "list_conversations",
				Description: "List customer chat conversations, newest first.",
				Parameters: Object(map[string]*Schema{
					"status": Enum("Only conversations with this status", conversationStatuses...),
					"limit":  Integer("Maximum number of conversations (default 20, max 100)"),
				}),
				ReadOnly: true,
			},
			run: func(ctx context.Context, env *Env, a listConversationsArgs) (Outcome, error) {
				q := store.Query{Limit: clampLimit(a.Limit)}
				if a.Status != "" {
					q.Filters = map[string]any{"status": a.Status}
				}
				rows, err := env.Store.ListRecords(ctx, store.TableConversations, q)
				if err != nil {
					return Outcome{}, storeFailure("list conversations", err)
				}
				return Outcome{Data: map[string]any{"conversations": rows, "count": len(rows)}}, nil
			},
		},
		&typedTool[conversationMessagesArgs]{
			decl: Declaration{
				Name:        "get_conversation_messages",
				Description: "Read the messages of one conversation in chronological order.",
				Parameters: Object(map[string]*Schema{
					"conversation_id": idSchema,
					"limit":           Integer("Maximum number of messages (default 20, max 100)"),
				}, "conversation_id"),
				ReadOnly: true,
			},
			target: func(a conversationMessagesArgs) models.Target { return conversationTarget(a.ConversationID) },
			run:    conversationMessages,
		},
		&typedTool[sendChatMessageArgs]{
			decl: Declaration{
				Name:        "send_chat_message",
				Description: "Post a reply from the support team into a chat conversation.",
				Parameters: Object(map[string]*Schema{
					"conversation_id": idSchema,
					"content":         String("Message text"),
				}, "conversation_id", "content"),
			},
			describe: func(a sendChatMessageArgs) string { return "reply in conversation " + a.ConversationID },
			run:      sendChatMessage,
		},
		&typedTool[conversationIDArgs]{
			decl: Declaration{
				Name:        "close_conversation",
				Description: "Mark a conversation as closed.",
				Parameters:  Object(map[string]*Schema{"conversation_id": idSchema}, "conversation_id"),
			},
			target: func(a conversationIDArgs) models.Target { return conversationTarget(a.ConversationID) },
			run:    closeConversation,
		},
		&typedTool[conversationIDArgs]{
			decl: Declaration{
				Name:        "delete_conversation",
				Description: "Permanently delete a conversation and all of its messages.",
				Parameters:  Object(map[string]*Schema{"conversation_id": idSchema}, "conversation_id"),
				Destructive: true,
			},
			target: func(a conversationIDArgs) models.Target { return conversationTarget(a.ConversationID) },
			describe: func(a conversationIDArgs) string {
				return "permanently delete conversation " + a.ConversationID + " and its messages"
			},
			run: deleteConversation,
		},
		&typedTool[sendWhatsAppArgs]{
			decl: Declaration{
				Name:        "send_whatsapp_message",
				Description: "Send a WhatsApp text message to a phone number in E.164 format. Optionally record it in a conversation.",
				Parameters: Object(map[string]*Schema{
					"phone_number":    String("Recipient phone number in E.164 format, e.g. +15551234567"),
					"message":         String("Message text"),
					"conversation_id": String("Conversation to record the message in"),
				}, "phone_number", "message"),
			},
			describe: func(a sendWhatsAppArgs) string { return "send a WhatsApp message to " + a.PhoneNumber },
			run:      sendWhatsApp,
		},
	}
}

func conversationMessages(ctx context.Context, env *Env, a conversationMessagesArgs) (Outcome, error) {
	if _, err := fetch(ctx, env, store.TableConversations, "conversation", a.ConversationID); err != nil {
		return Outcome{}, err
	}
	rows, err := env.Store.ListRecords(ctx, store.TableMessages, store.Query{
		Filters: map[string]any{"conversation_id": a.ConversationID},
		OrderBy: "created_at",
		Limit:   clampLimit(a.Limit),
	})
	if err != nil {
		return Outcome{}, storeFailure("list messages", err)
	}
	return Outcome{Data: map[string]any{"messages": rows, "count": len(rows)}}, nil
}

func sendChatMessage(ctx context.Context, env *Env, a sendChatMessageArgs) (Outcome, error) {
	conv, err := fetch(ctx, env, store.TableConversations, "conversation", a.ConversationID)
	if err != nil {
		return Outcome{}, err
	}
	if conv.String("status") == "closed" {
		return Outcome{}, fmt.Errorf("conversation %s is closed", a.ConversationID)
	}

	msg, err := env.Store.InsertRecord(ctx, store.TableMessages, store.Record{
		"conversation_id": a.ConversationID,
		"sender_type":     "agent",
		"content":         strings.TrimSpace(a.Content),
		"source":          "admin_agent",
	})
	if err != nil {
		return Outcome{}, storeFailure("send message", err)
	}
	data := map[string]any{"message": brief(msg, "conversation_id", "sender_type", "created_at")}
	if _, err := env.Store.UpdateRecord(ctx, store.TableConversations, a.ConversationID,
		store.Record{"last_message_at": env.now()}); err != nil {
		// The message is stored; only the conversation timestamp is stale.
		data["conversation_updated"] = false
		data["update_error"] = storeFailure("touch conversation", err).Error()
	}
	return Outcome{
		Data:   data,
		Target: models.Target{Table: store.TableMessages, ID: msg.ID()},
	}, nil
}

func closeConversation(ctx context.Context, env *Env, a conversationIDArgs) (Outcome, error) {
	conv, err := fetch(ctx, env, store.TableConversations, "conversation", a.ConversationID)
	if err != nil {
		return Outcome{}, err
	}
	if conv.String("status") == "closed" {
		return Outcome{Data: map[string]any{"conversation": brief(conv, "status", "closed_at"), "already_closed": true}}, nil
	}
	updated, err := env.Store.UpdateRecord(ctx, store.TableConversations, a.ConversationID, store.Record{
		"status":    "closed",
		"closed_at": env.now(),
	})
	if err != nil {
		return Outcome{}, storeFailure("close conversation", err)
	}
	return Outcome{Data: map[string]any{"conversation": brief(updated, "status", "closed_at")}}, nil
}

// deleteConversation removes the messages before the conversation row.
func deleteConversation(ctx context.Context, env *Env, a conversationIDArgs) (Outcome, error) {
	if _, err := fetch(ctx, env, store.TableConversations, "conversation", a.ConversationID); err != nil {
		return Outcome{}, err
	}
	n, err := env.Store.DeleteRecords(ctx, store.TableMessages, map[string]any{"conversation_id": a.ConversationID})
	if err != nil {
		return Outcome{}, storeFailure("delete conversation messages", err)
	}
	if err := env.Store.DeleteRecord(ctx, store.TableConversations, a.ConversationID); err != nil {
		if store.IsNotFound(err) {
			return Outcome{}, fmt.Errorf("conversation %s not found", a.ConversationID)
		}
		return Outcome{}, storeFailure("delete conversation", err)
	}
	return Outcome{Data: map[string]any{
		"deleted":          true,
		"conversation_id":  a.ConversationID,
		"messages_deleted": n,
	}}, nil
}

func sendWhatsApp(ctx context.Context, env *Env, a sendWhatsAppArgs) (Outcome, error) {
	if env.Messenger == nil {
		return Outcome{}, errNotConfigured("whatsapp")
	}
	if a.ConversationID != "" {
		if _, err := fetch(ctx, env, store.TableConversations, "conversation", a.ConversationID); err != nil {
			return Outcome{}, err
		}
	}

	d, err := env.Messenger.SendText(ctx, a.PhoneNumber, a.Message)
	if err != nil {
		return Outcome{}, err
	}

	data := map[string]any{"delivery": d, "to": a.PhoneNumber}
	target := models.Target{Table: "whatsapp", ID: d.ID}
	if a.ConversationID != "" {
		msg, err := env.Store.InsertRecord(ctx, store.TableMessages, store.Record{
			"conversation_id":     a.ConversationID,
			"sender_type":         "agent",
			"channel":             "whatsapp",
			"content":             a.Message,
			"external_message_id": d.ID,
			"source":              "admin_agent",
		})
		if err != nil {
			// The message already left.
			data["recorded"] = false
			data["record_error"] = storeFailure("record message", err).Error()
		} else {
			data["recorded"] = true
			target = models.Target{Table: store.TableMessages, ID: msg.ID()}
		}
	}
	return Outcome{Data: data, Target: target}, nil
}
