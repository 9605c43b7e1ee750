package notify

import (
	"fmt"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/message/catalog"
)

// Key identifies a user-visible message.
type Key string

// Session messages.
const (
	KeySessionCheckFailed    Key = "session.check_failed"
	KeySessionProfileFailed  Key = "session.profile_failed"
	KeySessionLoginSuccess   Key = "session.login_success"
	KeySessionLoginFailed    Key = "session.login_failed"
	KeySessionLogout         Key = "session.logout"
	KeySessionLogoutFailed   Key = "session.logout_failed"
	KeySessionRegistered     Key = "session.registered"
	KeySessionRegisterFailed Key = "session.register_failed"
	KeySessionInvalidSignUp  Key = "session.invalid_sign_up"
)

// Directory messages.
const (
	KeyDirectoryLoadFailed Key = "directory.load_failed"
)

// Task messages.
const (
	KeyTasksLoadFailed       Key = "tasks.load_failed"
	KeyTasksNotAuthenticated Key = "tasks.not_authenticated"
	KeyTasksCreateForbidden  Key = "tasks.create_forbidden"
	KeyTasksDeleteForbidden  Key = "tasks.delete_forbidden"
	KeyTasksNoAssignees      Key = "tasks.no_assignees"
	KeyTasksInvalidDates     Key = "tasks.invalid_dates"
	KeyTasksInvalid          Key = "tasks.invalid"
	KeyTasksNotFound         Key = "tasks.not_found"
	KeyTasksCreated          Key = "tasks.created"
	KeyTasksCreateFailed     Key = "tasks.create_failed"
	KeyTasksUpdated          Key = "tasks.updated"
	KeyTasksUpdateFailed     Key = "tasks.update_failed"
	KeyTasksDeleted          Key = "tasks.deleted"
	KeyTasksDeleteFailed     Key = "tasks.delete_failed"
)

// DefaultLocale matches the language the board was first written for.
const DefaultLocale = "pt-BR"

var translations = map[language.Tag]map[Key]string{
	language.BrazilianPortuguese: {
		KeySessionCheckFailed:    "Erro ao verificar a sessão de autenticação",
		KeySessionProfileFailed:  "Erro ao buscar perfil do usuário",
		KeySessionLoginSuccess:   "Login realizado com sucesso",
		KeySessionLoginFailed:    "Falha ao fazer login: %s",
		KeySessionLogout:         "Você foi desconectado",
		KeySessionLogoutFailed:   "Erro ao desconectar: %s",
		KeySessionRegistered:     "Conta criada com sucesso",
		KeySessionRegisterFailed: "Falha ao criar conta: %s",
		KeySessionInvalidSignUp:  "Dados de cadastro inválidos",

		KeyDirectoryLoadFailed: "Falha ao carregar usuários",

		KeyTasksLoadFailed:       "Falha ao carregar tarefas",
		KeyTasksNotAuthenticated: "Faça login para continuar",
		KeyTasksCreateForbidden:  "Apenas administradores podem criar tarefas",
		KeyTasksDeleteForbidden:  "Apenas administradores podem excluir tarefas",
		KeyTasksNoAssignees:      "Por favor, atribua a tarefa a pelo menos um usuário",
		KeyTasksInvalidDates:     "A data final não pode ser anterior à data inicial",
		KeyTasksInvalid:          "Dados da tarefa inválidos",
		KeyTasksNotFound:         "Tarefa não encontrada",
		KeyTasksCreated:          "Tarefa criada com sucesso",
		KeyTasksCreateFailed:     "Falha ao criar tarefa",
		KeyTasksUpdated:          "Tarefa atualizada com sucesso",
		KeyTasksUpdateFailed:     "Falha ao atualizar tarefa",
		KeyTasksDeleted:          "Tarefa excluída",
		KeyTasksDeleteFailed:     "Falha ao excluir tarefa",
	},
	language.English: {
		KeySessionCheckFailed:    "Error checking authentication session",
		KeySessionProfileFailed:  "Error fetching user profile",
		KeySessionLoginSuccess:   "Successfully logged in",
		KeySessionLoginFailed:    "Failed to login: %s",
		KeySessionLogout:         "You have been signed out",
		KeySessionLogoutFailed:   "Error signing out: %s",
		KeySessionRegistered:     "Account created successfully",
		KeySessionRegisterFailed: "Failed to create account: %s",
		KeySessionInvalidSignUp:  "Invalid registration data",

		KeyDirectoryLoadFailed: "Failed to load users",

		KeyTasksLoadFailed:       "Failed to load tasks",
		KeyTasksNotAuthenticated: "Sign in to continue",
		KeyTasksCreateForbidden:  "Only admins can create tasks",
		KeyTasksDeleteForbidden:  "Only admins can delete tasks",
		KeyTasksNoAssignees:      "Please assign the task to at least one user",
		KeyTasksInvalidDates:     "End date cannot be before start date",
		KeyTasksInvalid:          "Invalid task data",
		KeyTasksNotFound:         "Task not found",
		KeyTasksCreated:          "Task created successfully",
		KeyTasksCreateFailed:     "Failed to create task",
		KeyTasksUpdated:          "Task updated successfully",
		KeyTasksUpdateFailed:     "Failed to update task",
		KeyTasksDeleted:          "Task deleted",
		KeyTasksDeleteFailed:     "Failed to delete task",
	},
}

var messageCatalog = mustBuildCatalog()

func mustBuildCatalog() *catalog.Builder {
	b := catalog.NewBuilder(catalog.Fallback(language.English))
	for tag, messages := range translations {
		for key, msg := range messages {
			if err := b.SetString(tag, string(key), msg); err != nil {
				panic(fmt.Sprintf("register message %s for %s: %v", key, tag, err))
			}
		}
	}
	return b
}

// Localizer renders message keys in one language.
type Localizer struct {
	tag     language.Tag
	printer *message.Printer
}

// NewLocalizer creates a localizer for a BCP 47 locale such as "pt-BR" or "en".
// Unknown or malformed locales fall back to English.
func NewLocalizer(locale string) *Localizer {
	if locale == "" {
		locale = DefaultLocale
	}
	tag, err := language.Parse(locale)
	if err != nil {
		tag = language.English
	}
	return &Localizer{
		tag:     tag,
		printer: message.NewPrinter(tag, message.Catalog(messageCatalog)),
	}
}

// Tag returns the localizer language.
func (l *Localizer) Tag() language.Tag {
	return l.tag
}

// Message renders key with args.
func (l *Localizer) Message(key Key, args ...any) string {
	return l.printer.Sprintf(string(key), args...)
}
