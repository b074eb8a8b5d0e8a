package auth

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"
)

type User struct {
	Username string
	Name     string
	hash     []byte
}

// Credentials is the static login table. It is built once at startup and
// handed to whoever needs to authenticate; there is no package-level copy.
type Credentials struct {
	users map[string]User
	// compared against when the username is unknown so both paths cost a bcrypt
	dummy []byte
}

type credentialsFile struct {
	Users map[string]struct {
		Name         string `yaml:"name"`
		Password     string `yaml:"password"`
		PasswordHash string `yaml:"password_hash"`
	} `yaml:"users"`
}

// Entry is one user as configured. PasswordHash wins over Password.
type Entry struct {
	Name         string
	Password     string
	PasswordHash string
}

func NewCredentials(entries map[string]Entry) (*Credentials, error) {
	dummy, err := bcrypt.GenerateFromPassword([]byte("not-a-real-password"), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	c := &Credentials{users: make(map[string]User, len(entries)), dummy: dummy}
	for key, e := range entries {
		username := normalizeUsername(key)
		if username == "" {
			continue
		}
		if _, dup := c.users[username]; dup {
			return nil, fmt.Errorf("credentials: user %s configured twice", username)
		}
		var hash []byte
		switch {
		case e.PasswordHash != "":
			if _, err := bcrypt.Cost([]byte(e.PasswordHash)); err != nil {
				return nil, fmt.Errorf("credentials: user %s: bad password_hash: %w", username, err)
			}
			hash = []byte(e.PasswordHash)
		case e.Password != "":
			hash, err = HashPassword(e.Password)
			if err != nil {
				return nil, fmt.Errorf("credentials: user %s: %w", username, err)
			}
		default:
			// no password configured: the account cannot log in
			continue
		}
		name := e.Name
		if name == "" {
			name = username
		}
		c.users[username] = User{Username: username, Name: name, hash: hash}
	}
	return c, nil
}

// LoadCredentials reads the YAML file at path, or USER01_PASSWORD/USER01_NAME
// style variables from getenv when path is empty.
func LoadCredentials(path string, getenv func(string) string) (*Credentials, error) {
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("credentials: %w", err)
		}
		return ParseCredentials(raw)
	}
	if getenv == nil {
		getenv = os.Getenv
	}
	entries := make(map[string]Entry)
	for i := 1; i <= 99; i++ {
		key := fmt.Sprintf("USER%02d", i)
		pw := getenv(key + "_PASSWORD")
		if pw == "" {
			continue
		}
		entries[strings.ToLower(key)] = Entry{Name: getenv(key + "_NAME"), Password: pw}
	}
	return NewCredentials(entries)
}

func ParseCredentials(raw []byte) (*Credentials, error) {
	var f credentialsFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("credentials: parse: %w", err)
	}
	entries := make(map[string]Entry, len(f.Users))
	for username, u := range f.Users {
		entries[username] = Entry{Name: u.Name, Password: u.Password, PasswordHash: u.PasswordHash}
	}
	return NewCredentials(entries)
}

var ErrInvalidCredentials = errors.New("invalid credentials")

// Authenticate matches usernames case-insensitively.
func (c *Credentials) Authenticate(username, password string) (User, error) {
	u, ok := c.users[normalizeUsername(username)]
	if !ok {
		_ = bcrypt.CompareHashAndPassword(c.dummy, []byte(password))
		return User{}, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword(u.hash, []byte(password)); err != nil {
		return User{}, ErrInvalidCredentials
	}
	return u, nil
}

func (c *Credentials) Len() int { return len(c.users) }

func normalizeUsername(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func HashPassword(pw string) ([]byte, error) {
	return bcrypt.GenerateFromPassword([]byte(pw), bcrypt.DefaultCost)
}
