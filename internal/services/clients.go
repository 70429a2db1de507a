package services

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/authgrid/authgrid/internal/models"
	"github.com/authgrid/authgrid/internal/utils"
)

var (
	ErrClientExists     = errors.New("client id already exists")
	ErrClientAuthFailed = errors.New("client authentication failed")
	ErrClientFirstParty = errors.New("first-party clients cannot be deleted")
)

// ClientService manages the registered OAuth clients.
type ClientService struct {
	db     *gorm.DB
	tokens *TokenService
}

func NewClientService(db *gorm.DB, tokens *TokenService) *ClientService {
	return &ClientService{db: db, tokens: tokens}
}

type CreateClientRequest struct {
	ClientID     string   `json:"client_id" binding:"required,min=3,max=64"`
	Name         string   `json:"name" binding:"required,max=200"`
	RedirectURIs []string `json:"redirect_uris" binding:"required,min=1"`
	AllowedScope string   `json:"allowed_scope"`
	IsFirstParty bool     `json:"is_first_party"`
	Public       bool     `json:"public"`
}

type UpdateClientRequest struct {
	Name         *string   `json:"name"`
	RedirectURIs *[]string `json:"redirect_uris"`
	AllowedScope *string   `json:"allowed_scope"`
	IsFirstParty *bool     `json:"is_first_party"`
	IsActive     *bool     `json:"is_active"`
}

// CreateClientResult carries the plaintext secret for a confidential
// client. It is shown once at creation and never again.
type CreateClientResult struct {
	Client *models.OAuthClient `json:"client"`
	Secret string              `json:"client_secret,omitempty"`
}

func (s *ClientService) Create(req *CreateClientRequest) (*CreateClientResult, error) {
	for _, uri := range req.RedirectURIs {
		if err := validateRedirectURI(uri); err != nil {
			return nil, err
		}
	}
	if req.AllowedScope != "" {
		for _, sc := range ParseScope(req.AllowedScope) {
			if _, ok := LookupScope(sc); !ok {
				return nil, fmt.Errorf("unknown scope: %s", sc)
			}
		}
	}

	var count int64
	s.db.Model(&models.OAuthClient{}).Where("id = ?", req.ClientID).Count(&count)
	if count > 0 {
		return nil, ErrClientExists
	}

	client := &models.OAuthClient{
		ID:           req.ClientID,
		Name:         req.Name,
		RedirectURIs: strings.Join(req.RedirectURIs, "\n"),
		AllowedScope: JoinScope(ParseScope(req.AllowedScope)),
		IsFirstParty: req.IsFirstParty,
		IsActive:     true,
	}

	var secret string
	if !req.Public {
		var err error
		secret, err = generateClientSecret()
		if err != nil {
			return nil, err
		}
		hash, err := utils.HashPassword(secret)
		if err != nil {
			return nil, err
		}
		client.SecretHash = hash
	}

	if err := s.db.Create(client).Error; err != nil {
		return nil, err
	}

	return &CreateClientResult{Client: client, Secret: secret}, nil
}

func (s *ClientService) Get(clientID string) (*models.OAuthClient, error) {
	var client models.OAuthClient
	if err := s.db.Where("id = ?", clientID).First(&client).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrClientNotFound
		}
		return nil, err
	}
	return &client, nil
}

func (s *ClientService) List() ([]models.OAuthClient, error) {
	var clients []models.OAuthClient
	if err := s.db.Order("created_at DESC").Find(&clients).Error; err != nil {
		return nil, err
	}
	return clients, nil
}

func (s *ClientService) Update(clientID string, req *UpdateClientRequest) (*models.OAuthClient, error) {
	client, err := s.Get(clientID)
	if err != nil {
		return nil, err
	}

	updates := map[string]interface{}{}
	if req.Name != nil {
		updates["name"] = *req.Name
	}
	if req.RedirectURIs != nil {
		for _, uri := range *req.RedirectURIs {
			if err := validateRedirectURI(uri); err != nil {
				return nil, err
			}
		}
		updates["redirect_uris"] = strings.Join(*req.RedirectURIs, "\n")
	}
	if req.AllowedScope != nil {
		for _, sc := range ParseScope(*req.AllowedScope) {
			if _, ok := LookupScope(sc); !ok {
				return nil, fmt.Errorf("unknown scope: %s", sc)
			}
		}
		updates["allowed_scope"] = JoinScope(ParseScope(*req.AllowedScope))
	}
	if req.IsFirstParty != nil {
		updates["is_first_party"] = *req.IsFirstParty
	}
	if req.IsActive != nil {
		updates["is_active"] = *req.IsActive
	}

	if len(updates) > 0 {
		if err := s.db.Model(client).Updates(updates).Error; err != nil {
			return nil, err
		}
	}

	// Deactivating a client strands its refresh tokens; kill them so they
	// cannot come back when the client is re-enabled.
	if req.IsActive != nil && !*req.IsActive && s.tokens != nil {
		if _, err := s.tokens.RevokeClientTokens(clientID); err != nil {
			return nil, err
		}
	}

	return s.Get(clientID)
}

// RotateSecret replaces a confidential client's secret and returns the new
// plaintext once.
func (s *ClientService) RotateSecret(clientID string) (string, error) {
	client, err := s.Get(clientID)
	if err != nil {
		return "", err
	}
	if client.IsPublic() {
		return "", errors.New("public clients have no secret")
	}

	secret, err := generateClientSecret()
	if err != nil {
		return "", err
	}
	hash, err := utils.HashPassword(secret)
	if err != nil {
		return "", err
	}

	if err := s.db.Model(client).Update("secret_hash", hash).Error; err != nil {
		return "", err
	}
	return secret, nil
}

// Delete removes a client and revokes its tokens. First-party clients are
// permanent; disable them instead.
func (s *ClientService) Delete(clientID string) error {
	client, err := s.Get(clientID)
	if err != nil {
		return err
	}
	if client.IsFirstParty {
		return ErrClientFirstParty
	}

	if s.tokens != nil {
		if _, err := s.tokens.RevokeClientTokens(clientID); err != nil {
			return err
		}
	}
	return s.db.Delete(client).Error
}

// Authenticate verifies client credentials at the token endpoint. Public
// clients authenticate by id alone; their proof is PKCE.
func (s *ClientService) Authenticate(clientID, clientSecret string) (*models.OAuthClient, error) {
	client, err := s.Get(clientID)
	if err != nil {
		return nil, ErrClientAuthFailed
	}
	if !client.IsActive {
		return nil, ErrClientAuthFailed
	}

	if client.IsPublic() {
		if clientSecret != "" {
			return nil, ErrClientAuthFailed
		}
		return client, nil
	}

	if !utils.CheckPassword(clientSecret, client.SecretHash) {
		return nil, ErrClientAuthFailed
	}
	return client, nil
}

func validateRedirectURI(uri string) error {
	if uri == "" {
		return errors.New("redirect_uri cannot be empty")
	}
	if strings.ContainsAny(uri, " \n") {
		return fmt.Errorf("invalid redirect_uri: %s", uri)
	}
	if !strings.HasPrefix(uri, "https://") && !strings.HasPrefix(uri, "http://localhost") && !strings.HasPrefix(uri, "http://127.0.0.1") {
		return fmt.Errorf("redirect_uri must use https (or localhost for development): %s", uri)
	}
	if strings.Contains(uri, "#") {
		return fmt.Errorf("redirect_uri must not contain a fragment: %s", uri)
	}
	return nil
}

func generateClientSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
