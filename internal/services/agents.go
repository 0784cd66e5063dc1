package services

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"zapdesk/internal/adapters/openai"
	"zapdesk/internal/models"
	"zapdesk/internal/storage"
	"zapdesk/internal/store"
)

// AgentInput carries the editable fields of an agent persona.
type AgentInput struct {
	Name      string `json:"name"`
	Prompt    string `json:"prompt"`
	Knowledge string `json:"knowledge"`
	LLMAPIKey string `json:"llm_api_key"`
	Active    *bool  `json:"active"`
}

// AgentService owns agent personas: CRUD plus the single-shot
// provisioning of the backing OpenAI Assistant and knowledge uploads.
// The OpenAI client may be nil; agents then simply carry no assistant.
type AgentService struct {
	store     *store.Store
	assistant *openai.Client
	knowledge *storage.KnowledgeStore
}

func NewAgentService(st *store.Store, assistant *openai.Client, knowledge *storage.KnowledgeStore) (*AgentService, error) {
	if st == nil {
		return nil, fmt.Errorf("store cannot be nil for AgentService")
	}
	return &AgentService{store: st, assistant: assistant, knowledge: knowledge}, nil
}

// Create persists an agent and provisions its assistant. Assistant
// provisioning is fire-and-forget: a failure leaves the agent without
// a bound assistant and is only logged.
func (a *AgentService) Create(ctx context.Context, userID string, input AgentInput) (*models.Agent, error) {
	if input.Name == "" {
		return nil, fmt.Errorf("agent name is required")
	}

	agent := &models.Agent{
		UserID:    userID,
		Name:      input.Name,
		Prompt:    input.Prompt,
		Knowledge: input.Knowledge,
		LLMAPIKey: input.LLMAPIKey,
		Active:    true,
	}

	if a.assistant != nil {
		assistantID, err := a.assistant.CreateAssistant(ctx, input.Name, instructions(input))
		if err != nil {
			log.Error().Err(err).Str("name", input.Name).Msg("Assistant provisioning failed, agent created without one")
		} else {
			agent.AssistantID = assistantID
		}
	}

	if err := a.store.CreateAgent(agent); err != nil {
		return nil, err
	}
	log.Info().Str("agentID", agent.ID).Str("name", agent.Name).Msg("Agent created")
	return agent, nil
}

// Update edits an agent and pushes prompt changes to its assistant.
func (a *AgentService) Update(ctx context.Context, id string, input AgentInput) (*models.Agent, error) {
	agent, err := a.store.GetAgent(id)
	if err != nil {
		return nil, err
	}

	if input.Name != "" {
		agent.Name = input.Name
	}
	if input.Prompt != "" {
		agent.Prompt = input.Prompt
	}
	if input.Knowledge != "" {
		agent.Knowledge = input.Knowledge
	}
	if input.LLMAPIKey != "" {
		agent.LLMAPIKey = input.LLMAPIKey
	}
	if input.Active != nil {
		agent.Active = *input.Active
	}

	if err := a.store.UpdateAgent(agent); err != nil {
		return nil, err
	}

	if a.assistant != nil && agent.AssistantID != "" {
		if err := a.assistant.UpdateAssistant(ctx, agent.AssistantID, agent.Name, agent.Prompt); err != nil {
			log.Error().Err(err).Str("agentID", agent.ID).Msg("Assistant update failed")
		}
	}
	return agent, nil
}

// Delete removes an agent, its cascade, and its assistant
// (best-effort).
func (a *AgentService) Delete(ctx context.Context, id string) error {
	agent, err := a.store.GetAgent(id)
	if err != nil {
		return err
	}

	if a.assistant != nil && agent.AssistantID != "" {
		if err := a.assistant.DeleteAssistant(ctx, agent.AssistantID); err != nil {
			log.Error().Err(err).Str("assistantID", agent.AssistantID).Msg("Assistant deletion failed")
		}
	}

	files, err := a.store.ListKnowledgeFiles(id)
	if err == nil {
		for _, f := range files {
			if err := a.knowledge.Delete(ctx, f.ObjectKey); err != nil {
				log.Error().Err(err).Str("objectKey", f.ObjectKey).Msg("Knowledge file deletion failed")
			}
		}
	}

	return a.store.DeleteAgent(id)
}

// UploadKnowledge stores one knowledge document for an agent.
func (a *AgentService) UploadKnowledge(ctx context.Context, agentID, fileName, contentType string, data []byte) (*models.KnowledgeFile, error) {
	agent, err := a.store.GetAgent(agentID)
	if err != nil {
		return nil, err
	}

	key, err := a.knowledge.Put(ctx, agent.ID, fileName, contentType, data)
	if err != nil {
		return nil, err
	}

	file := &models.KnowledgeFile{
		AgentID:     agent.ID,
		FileName:    fileName,
		ObjectKey:   key,
		Size:        int64(len(data)),
		ContentType: contentType,
	}
	if err := a.store.CreateKnowledgeFile(file); err != nil {
		return nil, err
	}
	return file, nil
}

func instructions(input AgentInput) string {
	if input.Knowledge == "" {
		return input.Prompt
	}
	return input.Prompt + "\n\nKnowledge:\n" + input.Knowledge
}
