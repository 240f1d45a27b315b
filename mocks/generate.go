package mocks

//go:generate mockgen -destination=./mock_feed.go -package=mocks github.com/rxtech-lab/argo-playbook/internal/feed Feed
//go:generate mockgen -destination=./mock_executor.go -package=mocks github.com/rxtech-lab/argo-playbook/internal/playbook TradeExecutor
