package shared

// Permission codes known to the application. Codes are stable,
// upper-snake-case identifiers; descriptions live in the catalog table.
const (
	PermConfigVer               = "CONFIG_VER"
	PermConfigGestionarRoles    = "CONFIG_GESTIONAR_ROLES"
	PermConfigGestionarPermisos = "CONFIG_GESTIONAR_PERMISOS"

	PermUsuariosVer       = "USUARIOS_VER"
	PermUsuariosGestionar = "USUARIOS_GESTIONAR"

	PermProductosVer      = "PRODUCTOS_VER"
	PermProductosCrear    = "PRODUCTOS_CREAR"
	PermProductosEditar   = "PRODUCTOS_EDITAR"
	PermProductosEliminar = "PRODUCTOS_ELIMINAR"

	PermPedidosVer      = "PEDIDOS_VER"
	PermPedidosCrear    = "PEDIDOS_CREAR"
	PermPedidosCancelar = "PEDIDOS_CANCELAR"

	PermReportesVer = "REPORTES_VER"
)

// CatalogEntry describes one seedable permission.
type CatalogEntry struct {
	Code        string
	Description string
}

// PermissionCatalog lists every permission the application ships with.
func PermissionCatalog() []CatalogEntry {
	return []CatalogEntry{
		{PermConfigVer, "Ver módulo de configuración"},
		{PermConfigGestionarRoles, "Gestionar roles"},
		{PermConfigGestionarPermisos, "Gestionar permisos (roles/usuarios)"},
		{PermUsuariosVer, "Ver usuarios"},
		{PermUsuariosGestionar, "Gestionar usuarios"},
		{PermProductosVer, "Ver productos"},
		{PermProductosCrear, "Crear productos"},
		{PermProductosEditar, "Editar productos"},
		{PermProductosEliminar, "Eliminar productos"},
		{PermPedidosVer, "Ver pedidos"},
		{PermPedidosCrear, "Crear pedidos"},
		{PermPedidosCancelar, "Cancelar pedidos"},
		{PermReportesVer, "Ver reportes"},
	}
}

// ProtectedAdminPermissions returns the permission codes the administrator
// role must always keep. Guard rules reject any edit that would strip one.
func ProtectedAdminPermissions() []string {
	return []string{
		PermConfigVer,
		PermConfigGestionarRoles,
		PermConfigGestionarPermisos,
		PermUsuariosVer,
		PermUsuariosGestionar,
	}
}
