package tasks

import (
	"purchase_gateway/internal/services"
)

// DefineTasks registers all available tasks
func DefineTasks(r *Registry, purchases *services.PurchaseService, store *services.PurchaseStore, businesses *services.BusinessStore) {
	sweep := &SweepPendingPurchasesTask{purchases: purchases, store: store, businesses: businesses}
	r.Register(sweep.TaskID(), sweep.HandleExecution)

	reconcile := &ReconcileLedgerPostsTask{purchases: purchases, store: store, businesses: businesses}
	r.Register(reconcile.TaskID(), reconcile.HandleExecution)
}
