package twofa

import (
	"fmt"
	"os"
	"sort"
	"sync"

	"golang.org/x/crypto/bcrypt"
	yaml "gopkg.in/yaml.v3"
)

// Storage for our user data. User hands out a private copy for the caller to
// mutate; SaveUser persists it and installs it atomically, or changes nothing
// on failure. Enrollment only becomes real once it lands here.
type Storage interface {
	User(string) (*User, error)
	SaveUser(*User) error
}

// FileStore is a storage backend over a single YAML file. The whole file is
// loaded at open and rewritten on every save, which is plenty for the account
// counts this serves.
type FileStore struct {
	mu       sync.Mutex
	filename string
	users    map[string]*User
}

// NewFileStore opens (or creates) the YAML file at filename.
func NewFileStore(filename string) (*FileStore, error) {
	users := make(map[string]*User)

	data, err := os.ReadFile(filename)
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	if err == nil {
		userdata := []*User{}
		if err := yaml.Unmarshal(data, &userdata); err != nil {
			return nil, err
		}
		for _, user := range userdata {
			users[user.Username] = user
		}
	}

	return &FileStore{filename: filename, users: users}, nil
}

// NewDebugStore creates an in-memory store with canned accounts, all with the
// password "password". Obviously, this is for debugging purposes only.
func NewDebugStore() *FileStore {
	hash, err := bcrypt.GenerateFromPassword([]byte("password"), bcrypt.DefaultCost)
	if err != nil {
		panic(err)
	}
	users := make(map[string]*User)
	for _, name := range []string{"mary", "james", "test"} {
		users[name] = &User{Username: name, PasswordHash: string(hash)}
	}
	return &FileStore{users: users}
}

// User returns a copy of the account by username. Callers mutate their copy
// and hand it back through SaveUser; the stored record is never shared.
func (f *FileStore) User(username string) (*User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[username]
	if !ok {
		return nil, fmt.Errorf("user not found")
	}
	return u.clone(), nil
}

// SaveUser persists the user and only then installs it in the in-memory map,
// so a failed file write leaves both the file and the map as they were. A
// store without a filename (debug mode) only updates in memory.
func (f *FileStore) SaveUser(u *User) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	u = u.clone()
	if f.filename != "" {
		userdata := make([]*User, 0, len(f.users)+1)
		for name, user := range f.users {
			if name != u.Username {
				userdata = append(userdata, user)
			}
		}
		userdata = append(userdata, u)
		sort.Slice(userdata, func(i, j int) bool { return userdata[i].Username < userdata[j].Username })

		data, err := yaml.Marshal(userdata)
		if err != nil {
			return err
		}
		if err := os.WriteFile(f.filename, data, 0600); err != nil {
			return err
		}
	}

	f.users[u.Username] = u
	return nil
}
