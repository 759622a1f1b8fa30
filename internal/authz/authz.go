// authz — статическая таблица прав доступа.
//
// Право обычно выдаётся по роли. Исключение — пространство "ai.*":
// такие права дополнительно выдаются по тарифному плану подписки,
// чтобы AI-функции планировщика продавались тарифом, а не ролью.
// Неизвестное право всегда запрещено.
package authz

import (
	"strings"

	"github.com/pribylovaa/go-trip-planner/auth-service/internal/models"
)

// Права сервиса. Имена — "область.действие".
const (
	PermTripsRead    = "trips.read"
	PermTripsWrite   = "trips.write"
	PermBookingsRead = "bookings.read"
	PermBookingsMake = "bookings.make"
	PermProfileRead  = "profile.read"
	PermProfileWrite = "profile.write"
	PermUsersManage  = "users.manage"

	PermAIItinerary = "ai.itinerary.generate"
	PermAIChat      = "ai.chat"
)

// aiPrefix — пространство прав, выдаваемых тарифом.
const aiPrefix = "ai."

// rule — кому выдано право: по ролям и (для ai.*) по планам.
type rule struct {
	roles []models.Role
	plans []models.Plan
}

// table — полная таблица прав. Право, которого здесь нет, не существует.
var table = map[string]rule{
	PermTripsRead:    {roles: []models.Role{models.RoleUser, models.RoleAdmin}},
	PermTripsWrite:   {roles: []models.Role{models.RoleUser, models.RoleAdmin}},
	PermBookingsRead: {roles: []models.Role{models.RoleUser, models.RoleAdmin}},
	PermBookingsMake: {roles: []models.Role{models.RoleUser, models.RoleAdmin}},
	PermProfileRead:  {roles: []models.Role{models.RoleUser, models.RoleAdmin}},
	PermProfileWrite: {roles: []models.Role{models.RoleUser, models.RoleAdmin}},
	PermUsersManage:  {roles: []models.Role{models.RoleAdmin}},

	PermAIItinerary: {
		roles: []models.Role{models.RoleAdmin},
		plans: []models.Plan{models.PlanPremium, models.PlanPro},
	},
	PermAIChat: {
		roles: []models.Role{models.RoleAdmin},
		plans: []models.Plan{models.PlanPro},
	},
}

// Known сообщает, описано ли право в таблице.
func Known(permission string) bool {
	_, ok := table[permission]
	return ok
}

// Allowed решает, выдано ли право обладателю роли role и плана plan.
// Для прав "ai.*" совпадение плана равносильно совпадению роли.
func Allowed(role models.Role, plan models.Plan, permission string) bool {
	r, ok := table[permission]
	if !ok {
		return false
	}

	for _, allowed := range r.roles {
		if role == allowed {
			return true
		}
	}

	if strings.HasPrefix(permission, aiPrefix) {
		for _, allowed := range r.plans {
			if plan == allowed {
				return true
			}
		}
	}

	return false
}
